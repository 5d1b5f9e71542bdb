package validator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// fieldPrime 是 StarkNet 域素数 P = 2^251 + 17*2^192 + 1。
var fieldPrime = uint256.MustFromHex("0x800000000000011000000000000000000000000000000000000000000000001")

var (
	errFeltPrefix  = errors.New("felt must be 0x-prefixed hex")
	errFeltRange   = errors.New("felt exceeds field prime")
	errZeroAddress = errors.New("address must be non-zero")
)

// maxShortStringLen 是单个 felt 可编码的 ASCII 短字符串最大长度。
const maxShortStringLen = 31

// ParseFelt 解析 0x 前缀的十六进制 felt，允许前导零。
func ParseFelt(raw string) (*uint256.Int, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil, errFeltPrefix
	}
	digits := strings.TrimLeft(s[2:], "0")
	if digits == "" {
		digits = "0"
	}
	v, err := uint256.FromHex("0x" + strings.ToLower(digits))
	if err != nil {
		return nil, fmt.Errorf("invalid felt %q: %w", raw, err)
	}
	if !v.Lt(fieldPrime) {
		return nil, errFeltRange
	}
	return v, nil
}

// NormalizeFelt 返回 felt 的规范形式（小写、无前导零）。
func NormalizeFelt(raw string) (string, error) {
	v, err := ParseFelt(raw)
	if err != nil {
		return "", err
	}
	return v.Hex(), nil
}

// NormalizeAddress 校验合约地址并返回规范形式。
func NormalizeAddress(raw string) (string, error) {
	v, err := ParseFelt(raw)
	if err != nil {
		return "", err
	}
	if v.IsZero() {
		return "", errZeroAddress
	}
	return v.Hex(), nil
}

// NormalizeDecimals 校验 ERC20 decimals，空串表示由钱包自行查询。
func NormalizeDecimals(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return "", fmt.Errorf("invalid decimals %q", raw)
	}
	return strconv.FormatUint(n, 10), nil
}

// IsShortString 判断字符串能否编码进单个 felt。
func IsShortString(s string) bool {
	if len(s) > maxShortStringLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
