package chart

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numberPattern = regexp.MustCompile(`[-−]?\d[\d.,'\x{00a0}\x{202f}\x{2009}]*`)

// ParsePrice 从页面文本中解析价格，兼容千分位与逗号小数。
func ParsePrice(text string) (decimal.Decimal, error) {
	match := strings.TrimSpace(numberPattern.FindString(text))
	if match == "" {
		return decimal.Zero, fmt.Errorf("价格文本中没有数字: %q", text)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\'', '\u00a0', '\u202f', '\u2009', '\t', '\n':
			return -1
		case '−':
			return '-'
		}
		return r
	}, match)
	cleaned = strings.TrimRight(cleaned, ".,")

	dot := strings.LastIndex(cleaned, ".")
	comma := strings.LastIndex(cleaned, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-comma-1 != 3 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析价格失败 %q: %w", text, err)
	}
	if !value.IsPositive() {
		return decimal.Zero, errors.New("价格必须为正数")
	}
	return value, nil
}
