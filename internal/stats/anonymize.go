package stats

import (
	"errors"
	"fmt"
	"net"
)

// ErrInvalidAddress 无法解析的 IP 地址
var ErrInvalidAddress = errors.New("invalid ip address")

// AnonymizeIP 将地址粗化到网段级别，同一网段的地址结果相同，无法还原为原始地址
// IPv4 清零最后一个字节，IPv6 仅保留前 48 位
func AnonymizeIP(address string) (string, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	if v4 := ip.To4(); v4 != nil {
		masked := make(net.IP, len(v4))
		copy(masked, v4)
		masked[3] = 0
		return masked.String(), nil
	}

	masked := make(net.IP, net.IPv6len)
	copy(masked, ip.To16()[:6])
	return masked.String(), nil
}
