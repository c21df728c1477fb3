package dns

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Verifier checks domain ownership through TXT records.
type Verifier struct {
	Resolvers []string
	Timeout   time.Duration
}

func NewVerifier() *Verifier {
	return &Verifier{
		Resolvers: []string{"1.1.1.1:53", "8.8.8.8:53"},
		Timeout:   3 * time.Second,
	}
}

// VerifyTXT checks whether the hostname publishes a TXT record containing
// expectedCode. Public resolvers are tried first, then the system resolver.
func (v *Verifier) VerifyTXT(hostname, expectedCode string) error {
	if strings.TrimSpace(hostname) == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	if strings.TrimSpace(expectedCode) == "" {
		return fmt.Errorf("expectedCode cannot be empty")
	}

	host := dns.Fqdn(hostname)
	zap.L().Debug("Verifying DNS TXT record", zap.String("host", host))

	for _, resolver := range v.Resolvers {
		if err := v.queryTXTWithResolver(host, expectedCode, resolver); err == nil {
			zap.L().Info("DNS TXT verification success", zap.String("resolver", resolver), zap.String("hostname", hostname))
			return nil
		}
	}

	zap.L().Warn("Falling back to system resolver", zap.String("hostname", hostname))
	if err := queryTXTSystem(host, expectedCode); err == nil {
		zap.L().Info("DNS TXT verification success (system resolver)", zap.String("hostname", hostname))
		return nil
	}

	return fmt.Errorf("no matching TXT record found for %s", hostname)
}

func (v *Verifier) queryTXTWithResolver(hostname, expectedCode, resolver string) error {
	client := &dns.Client{
		Timeout: v.Timeout,
	}

	msg := dns.Msg{}
	msg.SetQuestion(hostname, dns.TypeTXT)

	resp, _, err := client.Exchange(&msg, resolver)
	if err != nil {
		zap.L().Debug("DNS query failed", zap.String("resolver", resolver), zap.Error(err))
		return err
	}

	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			for _, record := range txt.Txt {
				if strings.TrimSpace(record) == expectedCode {
					return nil
				}
			}
		}
	}

	return fmt.Errorf("no matching TXT record found at resolver %s", resolver)
}

func queryTXTSystem(hostname, expectedCode string) error {
	records, err := net.LookupTXT(hostname)
	if err != nil {
		return fmt.Errorf("system resolver TXT lookup failed: %w", err)
	}

	for _, r := range records {
		if strings.TrimSpace(r) == expectedCode {
			return nil
		}
	}

	return fmt.Errorf("no matching TXT record found via system resolver")
}
