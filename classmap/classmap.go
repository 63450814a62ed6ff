package classmap

import "fmt"

// NumClasses 数字 10 + 大写 26 + 小写 26
const NumClasses = 62

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ToChar 将类别下标转为字符：0-9 数字，10-35 大写，36-61 小写
func ToChar(index int) (string, error) {
	if index < 0 || index >= NumClasses {
		return "", fmt.Errorf("class index %d out of range [0,%d)", index, NumClasses)
	}
	return alphabet[index : index+1], nil
}

// ToIndex 是 ToChar 的逆映射
func ToIndex(char string) (int, error) {
	if len(char) != 1 {
		return -1, fmt.Errorf("expected a single character, got %q", char)
	}
	c := char[0]
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, nil
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 36, nil
	}
	return -1, fmt.Errorf("character %q is not in the glyph alphabet", char)
}

func Alphabet() string {
	return alphabet
}

// Contains 判断字符是否属于 62 类字母表
func Contains(char string) bool {
	_, err := ToIndex(char)
	return err == nil
}
