package functions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	maxBody          = 2 << 20
	maxDiscoveryHost = 4096
	userAgent        = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// DefaultSubdomains are probed by dns_enumeration.
var DefaultSubdomains = []string{
	"www", "mail", "ftp", "admin", "api", "dev", "test", "staging",
	"blog", "shop", "portal", "secure", "vpn", "remote",
}

var techPatterns = []struct {
	name     string
	patterns []string
}{
	{"WordPress", []string{"wp-content", "wp-includes"}},
	{"Drupal", []string{"drupal", "/sites/default/"}},
	{"Joomla", []string{"joomla", "/components/com_"}},
	{"Apache", []string{"apache"}},
	{"Nginx", []string{"nginx"}},
	{"PHP", []string{"php", ".php"}},
	{"ASP.NET", []string{"asp.net", "__viewstate"}},
	{"jQuery", []string{"jquery"}},
	{"Bootstrap", []string{"bootstrap"}},
}

var securityHeaders = []string{
	"x-frame-options", "x-content-type-options", "x-xss-protection",
	"strict-transport-security", "content-security-policy",
	"x-powered-by", "server",
}

// Toolkit holds the network clients used by the built-in functions.
type Toolkit struct {
	Client      *http.Client
	Resolver    *net.Resolver
	Limiter     *rate.Limiter // paces TCP probes
	Concurrency int
	Subdomains  []string
}

// NewToolkit returns a toolkit with conservative defaults.
func NewToolkit() *Toolkit {
	return &Toolkit{
		Client:      &http.Client{Timeout: 10 * time.Second},
		Resolver:    net.DefaultResolver,
		Limiter:     rate.NewLimiter(rate.Limit(200), 20),
		Concurrency: 32,
		Subdomains:  DefaultSubdomains,
	}
}

// Default returns the built-in table backed by NewToolkit.
func Default() *Table {
	return NewToolkit().Table()
}

// Table returns a table with every built-in function bound to k.
func (k *Toolkit) Table() *Table {
	t := NewTable()
	t.Register(Function{
		Name:        "port_scan_basic",
		Description: "TCP connect scan of a list of ports",
		Params: []Param{
			{Name: "target", Kind: KindString},
			{Name: "ports", Kind: KindPorts, Default: "22-80-443"},
			{Name: "timeout_ms", Kind: KindInt, Default: "1000"},
		},
		Call: func(ctx context.Context, a Args) (interface{}, error) {
			return k.PortScan(ctx, a.String("target"), a.Ports("ports"), time.Duration(a.Int("timeout_ms"))*time.Millisecond)
		},
	})
	t.Register(Function{
		Name:        "web_tech_detection",
		Description: "Fingerprint web technologies and security headers",
		Params:      []Param{{Name: "url", Kind: KindString}},
		Call: func(ctx context.Context, a Args) (interface{}, error) {
			return k.WebTech(ctx, a.String("url")), nil
		},
	})
	dns := Function{
		Name:        "dns_enumeration",
		Description: "Resolve common record types and probe common subdomains",
		Params:      []Param{{Name: "domain", Kind: KindString}},
		Call: func(ctx context.Context, a Args) (interface{}, error) {
			return k.DNS(ctx, a.String("domain")), nil
		},
	}
	t.Register(dns)
	dns.Name = "subdomain_enumeration"
	t.Register(dns)
	t.Register(Function{
		Name:        "vulnerability_check",
		Description: "Check a URL for missing security headers and common misconfigurations",
		Params:      []Param{{Name: "url", Kind: KindString}},
		Call: func(ctx context.Context, a Args) (interface{}, error) {
			return k.VulnCheck(ctx, a.String("url")), nil
		},
	})
	t.Register(Function{
		Name:        "network_discovery",
		Description: "Find live hosts in a CIDR range with TCP probes",
		Params: []Param{
			{Name: "cidr", Kind: KindString},
			{Name: "ports", Kind: KindPorts, Default: "22-80-443"},
		},
		Call: func(ctx context.Context, a Args) (interface{}, error) {
			return k.Discover(ctx, a.String("cidr"), a.Ports("ports"), time.Second)
		},
	})
	return t
}

// PortScanResult maps each probed port to whether it accepted a connection.
type PortScanResult struct {
	Target string       `json:"target"`
	Ports  map[int]bool `json:"ports"`
	Open   []int        `json:"open"`
}

// PortScan dials every port on target concurrently.
func (k *Toolkit) PortScan(ctx context.Context, target string, ports []int, timeout time.Duration) (*PortScanResult, error) {
	if target == "" {
		return nil, errors.New("empty target")
	}
	res := &PortScanResult{Target: target, Ports: make(map[int]bool, len(ports)), Open: []int{}}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(k.concurrency())
	for _, port := range ports {
		g.Go(func() error {
			open, _ := k.probe(ctx, net.JoinHostPort(target, strconv.Itoa(port)), timeout)
			mu.Lock()
			res.Ports[port] = open
			if open {
				res.Open = append(res.Open, port)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Ints(res.Open)
	return res, nil
}

// probe reports whether addr accepted a connection, and whether the host
// answered at all (a refused connection still proves the host is up).
func (k *Toolkit) probe(ctx context.Context, addr string, timeout time.Duration) (open, alive bool) {
	if k.Limiter != nil {
		if err := k.Limiter.Wait(ctx); err != nil {
			return false, false
		}
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		return true, true
	}
	return false, errors.Is(err, syscall.ECONNREFUSED)
}

func (k *Toolkit) concurrency() int {
	if k.Concurrency <= 0 {
		return 1
	}
	return k.Concurrency
}

// WebTechResult describes a fetched page.
type WebTechResult struct {
	URL             string            `json:"url"`
	StatusCode      int               `json:"status_code,omitempty"`
	Headers         map[string]string `json:"headers"`
	Technologies    []string          `json:"technologies"`
	SecurityHeaders map[string]string `json:"security_headers"`
	Generator       string            `json:"generator,omitempty"`
	Forms           int               `json:"forms"`
	Links           int               `json:"links"`
	Scripts         []string          `json:"scripts,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// WebTech fetches url and fingerprints it. Fetch errors are reported in
// the result.
func (k *Toolkit) WebTech(ctx context.Context, url string) *WebTechResult {
	res := &WebTechResult{
		URL:             url,
		Headers:         map[string]string{},
		Technologies:    []string{},
		SecurityHeaders: map[string]string{},
	}
	resp, body, err := k.fetch(ctx, url)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.StatusCode = resp.StatusCode
	for name := range resp.Header {
		res.Headers[name] = resp.Header.Get(name)
	}
	for _, h := range securityHeaders {
		if v := resp.Header.Get(h); v != "" {
			res.SecurityHeaders[h] = v
		}
	}

	lower := strings.ToLower(string(body))
	for _, tp := range techPatterns {
		for _, p := range tp.patterns {
			if strings.Contains(lower, p) {
				res.Technologies = append(res.Technologies, tp.name)
				break
			}
		}
	}
	scanDocument(body, res)
	return res
}

// scanDocument counts forms and links and records the generator and
// script sources.
func scanDocument(body []byte, res *WebTechResult) {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "form":
				res.Forms++
			case "a":
				if attr(tok, "href") != "" {
					res.Links++
				}
			case "meta":
				if strings.EqualFold(attr(tok, "name"), "generator") {
					res.Generator = attr(tok, "content")
				}
			case "script":
				if src := attr(tok, "src"); src != "" {
					res.Scripts = append(res.Scripts, src)
				}
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func (k *Toolkit) fetch(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	client := k.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

// DNSResult lists records by type.
type DNSResult struct {
	Domain     string   `json:"domain"`
	A          []string `json:"a_records"`
	AAAA       []string `json:"aaaa_records"`
	MX         []string `json:"mx_records"`
	NS         []string `json:"ns_records"`
	TXT        []string `json:"txt_records"`
	CNAME      []string `json:"cname_records"`
	Subdomains []string `json:"subdomains"`
}

// DNS resolves common record types for domain and probes subdomains.
// Lookups that fail leave their list empty.
func (k *Toolkit) DNS(ctx context.Context, domain string) *DNSResult {
	r := k.Resolver
	res := &DNSResult{
		Domain: domain, A: []string{}, AAAA: []string{}, MX: []string{},
		NS: []string{}, TXT: []string{}, CNAME: []string{}, Subdomains: []string{},
	}
	if ips, err := r.LookupIPAddr(ctx, domain); err == nil {
		for _, ip := range ips {
			if ip.IP.To4() != nil {
				res.A = append(res.A, ip.IP.String())
			} else {
				res.AAAA = append(res.AAAA, ip.IP.String())
			}
		}
	}
	if mxs, err := r.LookupMX(ctx, domain); err == nil {
		for _, mx := range mxs {
			res.MX = append(res.MX, fmt.Sprintf("%d %s", mx.Pref, mx.Host))
		}
	}
	if nss, err := r.LookupNS(ctx, domain); err == nil {
		for _, ns := range nss {
			res.NS = append(res.NS, ns.Host)
		}
	}
	if txts, err := r.LookupTXT(ctx, domain); err == nil {
		res.TXT = append(res.TXT, txts...)
	}
	if cname, err := r.LookupCNAME(ctx, domain); err == nil && strings.TrimSuffix(cname, ".") != strings.TrimSuffix(domain, ".") {
		res.CNAME = append(res.CNAME, cname)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.concurrency())
	for _, sub := range k.Subdomains {
		full := sub + "." + domain
		g.Go(func() error {
			if addrs, err := r.LookupHost(gctx, full); err == nil && len(addrs) > 0 {
				mu.Lock()
				res.Subdomains = append(res.Subdomains, full)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Subdomains)
	return res
}

// VulnCheckResult lists detected issues.
type VulnCheckResult struct {
	URL             string   `json:"url"`
	SecurityIssues  []string `json:"security_issues"`
	Recommendations []string `json:"recommendations"`
	Error           string   `json:"error,omitempty"`
}

// VulnCheck applies header and content checks to url.
func (k *Toolkit) VulnCheck(ctx context.Context, url string) *VulnCheckResult {
	res := &VulnCheckResult{URL: url, SecurityIssues: []string{}, Recommendations: []string{}}
	resp, body, err := k.fetch(ctx, url)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	h := resp.Header
	content := strings.ToLower(string(body))
	lowerURL := strings.ToLower(url)

	checks := []struct {
		issue string
		hit   bool
	}{
		{"Missing X-Frame-Options", h.Get("X-Frame-Options") == ""},
		{"Missing X-Content-Type-Options", h.Get("X-Content-Type-Options") == ""},
		{"Missing X-XSS-Protection", h.Get("X-XSS-Protection") == ""},
		{"Server header disclosure", h.Get("Server") != ""},
		{"X-Powered-By disclosure", h.Get("X-Powered-By") != ""},
		{"Directory listing enabled", strings.Contains(content, "index of")},
		{"Default pages present", strings.Contains(content, "apache2 ubuntu default") || strings.Contains(content, "welcome to nginx")},
		{"Potential SQL injection points", strings.Contains(url, "?") && containsAny(lowerURL, "id=", "user=", "page=")},
		{"HTTP instead of HTTPS", strings.HasPrefix(lowerURL, "http://")},
	}
	for _, c := range checks {
		if c.hit {
			res.SecurityIssues = append(res.SecurityIssues, c.issue)
		}
	}

	recs := map[string]string{
		"Missing X-Frame-Options":  "Add X-Frame-Options header to prevent clickjacking",
		"HTTP instead of HTTPS":    "Implement HTTPS/TLS encryption",
		"Server header disclosure": "Hide server version information",
	}
	for _, issue := range res.SecurityIssues {
		if rec, ok := recs[issue]; ok {
			res.Recommendations = append(res.Recommendations, rec)
		}
	}
	return res
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DiscoveryResult lists hosts that answered a probe.
type DiscoveryResult struct {
	Network   string   `json:"network"`
	Probed    int      `json:"hosts_probed"`
	LiveHosts []string `json:"live_hosts"`
}

// Discover probes every host address in cidr on ports. A host is live when
// any port accepts or actively refuses a connection.
func (k *Toolkit) Discover(ctx context.Context, cidr string, ports []int, timeout time.Duration) (*DiscoveryResult, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		addr, aerr := netip.ParseAddr(cidr)
		if aerr != nil {
			return nil, fmt.Errorf("invalid network range %q: %w", cidr, err)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}
	hosts, err := hostAddrs(prefix.Masked())
	if err != nil {
		return nil, err
	}

	res := &DiscoveryResult{Network: prefix.Masked().String(), Probed: len(hosts), LiveHosts: []string{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.concurrency())
	for _, host := range hosts {
		g.Go(func() error {
			for _, port := range ports {
				open, alive := k.probe(gctx, net.JoinHostPort(host.String(), strconv.Itoa(port)), timeout)
				if open || alive {
					mu.Lock()
					res.LiveHosts = append(res.LiveHosts, host.String())
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(res.LiveHosts, func(i, j int) bool {
		a, _ := netip.ParseAddr(res.LiveHosts[i])
		b, _ := netip.ParseAddr(res.LiveHosts[j])
		return a.Less(b)
	})
	return res, nil
}

// hostAddrs enumerates usable host addresses, skipping the network and
// broadcast addresses of IPv4 ranges wider than /31.
func hostAddrs(p netip.Prefix) ([]netip.Addr, error) {
	bits := p.Addr().BitLen() - p.Bits()
	if bits > 12 {
		return nil, fmt.Errorf("network range %s too large (max %d hosts)", p, maxDiscoveryHost)
	}
	var out []netip.Addr
	for a := p.Addr(); p.Contains(a); a = a.Next() {
		out = append(out, a)
		if !a.Next().IsValid() {
			break
		}
	}
	if p.Addr().Is4() && bits >= 2 && len(out) > 2 {
		out = out[1 : len(out)-1]
	}
	return out, nil
}
