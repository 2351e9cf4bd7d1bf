// Package network はAVDECC over UDPのソケット層を提供します。
// 制御プレーンのコアはこの層を Transport インターフェース経由で利用し、
// ソケットを直接扱いません。
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"avdecc-list/avdecc"
)

// DefaultMulticastIP はAVDECC制御メッセージのデフォルトのマルチキャストグループ
var DefaultMulticastIP = net.ParseIP("224.0.23.240")

// UDPConnection は UDP ソケットを管理します。
// 送信先に nil を渡すとマルチキャストグループ宛に送信します。
type UDPConnection struct {
	UdpConn     *net.UDPConn
	LocalUDP    *net.UDPAddr
	localIPs    []net.IP // ローカルインターフェースのIPリスト
	Port        int
	multicastIP net.IP
	mu          sync.RWMutex
	closed      bool
}

// CreateUDPConnection は IPv4 の unicast と multicast の受信に対応したソケットを作ります。
// multicastIP が nil の場合は DefaultMulticastIP のグループに参加します。
// IPv6 は非対応です。
func CreateUDPConnection(ctx context.Context, port int, multicastIP net.IP) (*UDPConnection, error) {
	if multicastIP == nil {
		multicastIP = DefaultMulticastIP
	}
	if multicastIP.To4() == nil {
		return nil, fmt.Errorf("IPv6 not supported for multicastIP")
	}
	if !multicastIP.IsMulticast() {
		return nil, fmt.Errorf("multicastIP is not a multicast address")
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: multicastIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to ListenMulticastUDP: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	// 自送信パケットの除外用にローカルIPv4アドレスを取得
	localIPs, err := GetLocalIPv4s()
	if err != nil {
		fmt.Printf("Warning: could not reliably determine local IPs for self-message filtering: %v\n", err)
		localIPs = []net.IP{}
	}

	return &UDPConnection{
		UdpConn:     conn,
		LocalUDP:    conn.LocalAddr().(*net.UDPAddr),
		localIPs:    localIPs,
		Port:        port,
		multicastIP: multicastIP,
	}, nil
}

// Send は Transport インターフェースの送信を実装します。
// dest が nil のときはマルチキャストグループ宛に送信します。
func (c *UDPConnection) Send(data []byte, dest net.IP) error {
	if len(data) > avdecc.MaxPDUSize {
		return fmt.Errorf("PDUが大きすぎます: %d バイト", len(data))
	}
	if dest == nil {
		dest = c.multicastIP
	}
	_, err := c.UdpConn.WriteTo(data, &net.UDPAddr{IP: dest, Port: c.Port})
	return err
}

// LocalAddr は送信に使うローカルIPアドレスを返します。
func (c *UDPConnection) LocalAddr() net.IP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.localIPs) > 0 {
		return c.localIPs[0]
	}
	return net.IPv4zero
}

// IsReady はソケットが送受信可能かどうかを返します。
func (c *UDPConnection) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// isSelfPacket は指定されたアドレスが自身のいずれかのローカルIPとポートから送信されたものかを確認します
func (c *UDPConnection) isSelfPacket(src *net.UDPAddr) bool {
	if src == nil {
		return false
	}
	if src.Port != c.Port {
		return false
	}
	for _, localIP := range c.localIPs {
		if src.IP.Equal(localIP) {
			return true
		}
	}
	return false
}

// IsLocalIP は指定されたIPアドレスが自身のローカルIPのいずれかと一致するかを確認します
func (c *UDPConnection) IsLocalIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, localIP := range c.localIPs {
		if ip.Equal(localIP) {
			return true
		}
	}
	return false
}

// Close はソケットを閉じます
func (c *UDPConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.UdpConn.Close()
}

// GetLocalIPv4s はローカルマシンの非ループバックIPv4アドレスのリストを取得します
func GetLocalIPv4s() ([]net.IP, error) {
	var localIPs []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}
	for _, i := range ifaces {
		if (i.Flags&net.FlagUp == 0) || (i.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			// 一部のインターフェースで失敗しても残りは処理する
			fmt.Printf("Warning: failed to get addresses for interface %s: %v\n", i.Name, err)
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil {
				localIPs = append(localIPs, ip)
			}
		}
	}
	return localIPs, nil
}

// bufferPool は受信バッファのプールです
var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, avdecc.MaxPDUSize) },
}

// Receive は UDP パケットを受信し、送信元アドレスとデータを返します。
// 自送信パケットを除外し（data が nil になる）、コンテキストキャンセルに対応します。
func (c *UDPConnection) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.UdpConn.SetReadDeadline(deadline)
	} else {
		c.UdpConn.SetReadDeadline(time.Time{})
	}

	type result struct {
		data []byte
		addr *net.UDPAddr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := bufferPool.Get().([]byte)
		defer bufferPool.Put(buf)
		n, addr, err := c.UdpConn.ReadFrom(buf)
		if err != nil {
			ch <- result{nil, nil, err}
			return
		}
		src := addr.(*net.UDPAddr)
		if c.isSelfPacket(src) {
			ch <- result{nil, nil, nil}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ch <- result{data, src, nil}
	}()

	select {
	case <-ctx.Done():
		c.UdpConn.SetReadDeadline(time.Now())
		<-ch
		return nil, nil, ctx.Err()
	case res := <-ch:
		return res.data, res.addr, res.err
	}
}
