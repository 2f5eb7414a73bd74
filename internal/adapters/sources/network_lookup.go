package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"github.com/target/ticket-enhancer/internal/adapters/jsonapi"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/retry"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxIndicators = 5
	// lookupParallelism bounds concurrent indicator requests.
	lookupParallelism = 3
)

// networkLookup resolves IP addresses and domains mentioned in a ticket.
// Template variables: {indicator}, {kind} ("ip" or "domain"), {ticket_id}.
type networkLookup struct {
	hc            *http.Client
	maxIndicators int
}

// NewNetworkLookup builds the network_lookup source.
func NewNetworkLookup(hc *http.Client, maxIndicators int) ports.ContextSource {
	if maxIndicators <= 0 {
		maxIndicators = defaultMaxIndicators
	}
	return &networkLookup{hc: hc, maxIndicators: maxIndicators}
}

func (n *networkLookup) Name() string { return model.SourceNetworkLookup }

// Indicator is an IP address or registrable domain found in ticket text.
type Indicator struct {
	Value string
	Kind  string
}

// Fetch looks up each indicator and returns an object keyed by indicator. Lookups
// that fail are left out; the source fails only when every lookup failed.
func (n *networkLookup) Fetch(
	ctx context.Context,
	tc tenant.Context,
	spec tenant.SourceSpec,
	ticket model.Ticket,
) (ports.SourceData, error) {
	if err := tenant.Require(tc); err != nil {
		return ports.SourceData{}, retry.Permanent(err)
	}
	indicators := ExtractIndicators(ticket.Subject+"\n"+ticket.Description, n.maxIndicators)
	if len(indicators) == 0 {
		return ports.SourceData{}, nil
	}

	var (
		mu      sync.Mutex
		results = make(map[string]json.RawMessage, len(indicators))
		errs    []error
		g       errgroup.Group
	)
	g.SetLimit(lookupParallelism)
	for _, ind := range indicators {
		g.Go(func() error {
			url := expandIndicator(spec.URL, ind, ticket.ID)
			data, err := fetch(ctx, n.hc, spec, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if data != nil {
				results[ind.Value] = data
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 && len(errs) > 0 {
		return ports.SourceData{}, errors.Join(errs...)
	}
	if len(results) == 0 {
		return ports.SourceData{}, nil
	}
	out, err := json.Marshal(results)
	if err != nil {
		return ports.SourceData{}, retry.Permanent(err)
	}
	return ports.SourceData{Data: out}, nil
}

func expandIndicator(template string, ind Indicator, ticketID string) string {
	return jsonapi.Expand(template, map[string]string{
		"indicator": ind.Value,
		"kind":      ind.Kind,
		"ticket_id": ticketID,
	})
}

// ExtractIndicators returns up to limit distinct IPs and registrable domains in
// order of first appearance. Domains are reduced to eTLD+1 and must end in an
// ICANN public suffix, which filters out file names like "report.pdf".
func ExtractIndicators(text string, limit int) []Indicator {
	seen := make(map[string]bool)
	var out []Indicator
	for _, token := range strings.FieldsFunc(text, isTokenSeparator) {
		if len(out) >= limit {
			break
		}
		ind, ok := classifyToken(token)
		if !ok || seen[ind.Value] {
			continue
		}
		seen[ind.Value] = true
		out = append(out, ind)
	}
	return out
}

func isTokenSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ',', ';', '(', ')', '[', ']', '<', '>', '"', '\'', '|', '{', '}':
		return true
	}
	return false
}

func classifyToken(token string) (Indicator, bool) {
	token = strings.TrimRight(token, ".:!?")
	if i := strings.Index(token, "://"); i >= 0 {
		token = token[i+3:]
	}
	if i := strings.IndexAny(token, "/?#"); i >= 0 {
		token = token[:i]
	}
	if i := strings.LastIndexByte(token, '@'); i >= 0 {
		token = token[i+1:]
	}
	if token == "" {
		return Indicator{}, false
	}

	if addr, err := netip.ParseAddr(strings.Trim(token, "[]")); err == nil {
		if addr.IsUnspecified() || addr.IsLoopback() {
			return Indicator{}, false
		}
		return Indicator{Value: addr.Unmap().String(), Kind: "ip"}, true
	}
	if ap, err := netip.ParseAddrPort(token); err == nil {
		return Indicator{Value: ap.Addr().Unmap().String(), Kind: "ip"}, true
	}

	host := strings.ToLower(token)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if !strings.Contains(host, ".") || !isHostname(host) {
		return Indicator{}, false
	}
	if _, icann := publicsuffix.PublicSuffix(host); !icann {
		return Indicator{}, false
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return Indicator{}, false
	}
	return Indicator{Value: domain, Kind: "domain"}, true
}

func isHostname(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return !strings.HasPrefix(s, ".") && !strings.Contains(s, "..")
}
