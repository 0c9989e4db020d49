package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL は会員が入力したURLが取得対象として安全でないことを表す。
var ErrUnsafeURL = errors.New("unsafe url")

// URLGuard は会員が入力した外部URL（プロフィール写真など）へのアクセスを制限する。
type URLGuard interface {
	// NewSafeClient は内部ネットワークへの接続を拒否するHTTPクライアントを生成する。
	// 接続先の検証はDNS解決後のIPアドレスに対して行われる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わずにURLを静的に検証する。
	// httpsのみ許可し、内部アドレスと内部向けホスト名を拒否する。
	ValidateURL(rawURL string) error
}

// blockedPrefixes は取得を拒否するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHostSuffixes は内部向けとみなすホスト名。
var blockedHostSuffixes = []string{"localhost", ".local", ".internal"}

type urlGuard struct{}

// NewURLGuard はURLGuardの新しいインスタンスを生成する。
func NewURLGuard() URLGuard {
	return urlGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// プライベート・ループバック・リンクローカルのアドレスは接続時に拒否され、
// DNS再バインディングにも対応する。
func (urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(config).Client
}

// ValidateURL はURLを静的に検証する。
func (urlGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty url", ErrUnsafeURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, u.Scheme)
	}
	if port := u.Port(); port != "" && port != "443" {
		return fmt.Errorf("%w: port %s is not allowed", ErrUnsafeURL, port)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("%w: address %s is blocked", ErrUnsafeURL, addr)
			}
		}
		return nil
	}
	for _, suffix := range blockedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %s is blocked", ErrUnsafeURL, host)
		}
	}
	return nil
}
