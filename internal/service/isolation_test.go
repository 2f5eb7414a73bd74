package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/mocks"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/testutil"
	"go.uber.org/mock/gomock"
)

// marker is the tenant-private string a fake dependency embeds in everything it returns.
func marker(tenantID, what string) string { return tenantID + "-private-" + what }

// rendezvous blocks each caller until n callers have arrived, so both tenants'
// jobs are provably in flight together.
type rendezvous struct {
	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

func newRendezvous(n int) *rendezvous {
	r := &rendezvous{done: make(chan struct{})}
	r.wg.Add(n)
	go func() {
		r.wg.Wait()
		r.once.Do(func() { close(r.done) })
	}()
	return r
}

func (r *rendezvous) arrive(t *testing.T) {
	r.wg.Done()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Error("jobs never ran concurrently")
	}
}

func TestOrchestrator_ConcurrentTenantsStayIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)
	tenants := []string{"acme", "globex"}

	contexts := make(map[string]tenant.Context, len(tenants))
	for _, id := range tenants {
		r := 0
		src := func(url string) model.SourceConfig {
			return model.SourceConfig{URL: url, Timeout: model.Duration(time.Second), Retries: &r}
		}
		contexts[id] = testutil.NewTenant(id).
			WithSource(model.SourceTicketHistory, src("https://hist."+id+".example.com/{requester}")).
			WithSource(model.SourceKnowledgeBase, src("https://kb."+id+".example.com/search?q={query}")).
			WithSource(model.SourceNetworkLookup, model.SourceConfig{Disabled: true}).
			Context()
	}

	// Every source answers from the tenant scope it was handed; the history
	// source also waits until both tenants are mid-gather.
	meet := newRendezvous(len(tenants))
	history := mocks.NewMockContextSource(ctrl)
	history.EXPECT().Name().Return(model.SourceTicketHistory).AnyTimes()
	history.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, _ tenant.SourceSpec, ticket model.Ticket) (ports.SourceData, error) {
			meet.arrive(t)
			assert.True(t, strings.HasPrefix(ticket.ID, tc.ID()), "ticket %s fetched under %s", ticket.ID, tc.ID())
			return ports.SourceData{Data: json.RawMessage(fmt.Sprintf(`[{"note":%q}]`, marker(tc.ID(), "history")))}, nil
		})
	kb := mocks.NewMockContextSource(ctrl)
	kb.EXPECT().Name().Return(model.SourceKnowledgeBase).AnyTimes()
	kb.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, _ tenant.SourceSpec, _ model.Ticket) (ports.SourceData, error) {
			return ports.SourceData{Data: json.RawMessage(fmt.Sprintf(`[%q]`, marker(tc.ID(), "kb")))}, nil
		})
	agg, err := NewAggregator(AggregatorOptions{
		Sources:    []ports.ContextSource{history, kb},
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	tickets := mocks.NewMockTicketClient(ctrl)
	tickets.EXPECT().GetTicket(gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, id string) (model.Ticket, error) {
			return model.Ticket{ID: id, Subject: marker(tc.ID(), "subject"), Requester: tc.ID() + "@example.com"}, nil
		})

	var (
		mu       sync.Mutex
		prompts  = map[string]string{}
		writes   = map[string]ports.WriteRequest{}
		saved    = map[string]*model.EnhancementResult{}
		bundles  = map[string]model.ContextBundle{}
		acked    = map[string]string{}
		writeFor = map[string]string{}
	)
	synth := mocks.NewMockSynthesizer(ctrl)
	synth.EXPECT().Synthesize(gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, req ports.SynthesisRequest) (ports.Synthesis, error) {
			mu.Lock()
			prompts[req.TenantID] = req.User
			mu.Unlock()
			return ports.Synthesis{Text: marker(req.TenantID, "summary")}, nil
		})
	tickets.EXPECT().WriteEnhancement(gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, req ports.WriteRequest) (model.WriteOutcome, error) {
			mu.Lock()
			writes[tc.ID()] = req
			writeFor[req.TicketID] = tc.ID()
			mu.Unlock()
			return model.WriteOutcomeWritten, nil
		})
	results := mocks.NewMockResultRepository(ctrl)
	results.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, res *model.EnhancementResult) (bool, error) {
			mu.Lock()
			saved[tc.ID()] = res
			mu.Unlock()
			return true, nil
		})
	jobs := mocks.NewMockJobRepository(ctrl)
	jobs.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Times(len(tenants)).
		DoAndReturn(func(_ context.Context, tc tenant.Context, id string) (bool, error) {
			mu.Lock()
			acked[id] = tc.ID()
			mu.Unlock()
			return true, nil
		})
	usage := mocks.NewMockUsagePublisher(ctrl)
	usage.EXPECT().PublishUsage(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	archive := mocks.NewMockResultArchiver(ctrl)
	archive.EXPECT().Archive(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	o, err := NewOrchestrator(OrchestratorOptions{
		Jobs:    jobs,
		Results: results,
		Tenants: TenantLoaderFunc(func(_ context.Context, id string) (tenant.Context, error) {
			return contexts[id], nil
		}),
		Gatherer: GathererFunc(func(ctx context.Context, tc tenant.Context, ticket model.Ticket) (model.ContextBundle, error) {
			bundle, err := agg.Gather(ctx, tc, ticket)
			mu.Lock()
			bundles[tc.ID()] = bundle
			mu.Unlock()
			return bundle, err
		}),
		Synthesizer: synth,
		Tickets:     tickets,
		Usage:       usage,
		Archive:     archive,
		Alerter:     mocks.NewMockAlerter(ctrl),
	})
	require.NoError(t, err)

	outcomes := make(map[string]Outcome, len(tenants))
	var wg sync.WaitGroup
	for i, id := range tenants {
		j := &model.EnhancementJob{
			ID:         fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i+1),
			TenantID:   id,
			TicketID:   id + "-T-1",
			EventID:    "evt-1",
			DedupKey:   model.DedupKey(id+"-T-1", "evt-1"),
			Status:     model.JobStatusRunning,
			MaxRetries: 5,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := o.Process(context.Background(), j)
			mu.Lock()
			outcomes[id] = out
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, id := range tenants {
		other := "globex"
		if id == "globex" {
			other = "acme"
		}
		t.Run(id, func(t *testing.T) {
			out := outcomes[id]
			require.NoError(t, out.Err)
			assert.Equal(t, ActionComplete, out.Action)
			assert.Equal(t, model.ResultSucceeded, out.Status)

			bundle, err := json.Marshal(bundles[id])
			require.NoError(t, err)
			assert.Contains(t, string(bundle), marker(id, "history"))
			assert.NotContains(t, string(bundle), other)

			assert.Contains(t, prompts[id], marker(id, "subject"))
			assert.Contains(t, prompts[id], marker(id, "kb"))
			assert.NotContains(t, prompts[id], other)

			w := writes[id]
			assert.Equal(t, id+"-T-1", w.TicketID)
			assert.Equal(t, marker(id, "summary"), w.Text)
			assert.Equal(t, id, writeFor[w.TicketID])

			res := saved[id]
			require.NotNil(t, res)
			assert.Equal(t, id, res.TenantID)
			assert.Equal(t, id+"-T-1", res.TicketID)
			assert.NotContains(t, res.Text, other)
			assert.Equal(t, id, acked[res.JobID])
		})
	}
}
