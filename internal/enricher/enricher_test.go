package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Ashfaaq98/assetintel/internal/bus"
	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/store"
	"github.com/Ashfaaq98/assetintel/internal/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu    sync.Mutex
	calls [][]lookup.Observable
	fn    func(obs []lookup.Observable) ([]lookup.Result, error)
}

func (f *fakeLookup) DoLookup(ctx context.Context, obs []lookup.Observable, opts lookup.Options) ([]lookup.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, obs)
	f.mu.Unlock()
	return f.fn(obs)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []bus.EnrichmentMessage
	err  error
}

func (p *fakePublisher) PublishEnrichment(ctx context.Context, msg bus.EnrichmentMessage) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

const networkEvent = `{
	"class_uid": 4001,
	"metadata": {"uid": "evt-7"},
	"src_endpoint": {"ip": "10.0.0.5"},
	"dst_endpoint": {"ip": "127.0.0.1", "hostname": "db01.corp.example.com"}
}`

func hitAll(obs []lookup.Observable) ([]lookup.Result, error) {
	out := make([]lookup.Result, len(obs))
	for i, o := range obs {
		out[i] = lookup.Result{Observable: o}
		if !o.IsIgnoredAddress {
			out[i].Data = &lookup.Data{Summary: []string{}, Details: json.RawMessage(`{"data": [{"id": "a"}, {"id": "b"}]}`)}
		}
	}
	return out, nil
}

func TestProcessRaw_PublishesFields(t *testing.T) {
	fl := &fakeLookup{fn: hitAll}
	pub := &fakePublisher{}
	e := New(fl, lookup.Options{BaseURL: "https://api.example.com", SecurityToken: "s"}, pub, Config{}, nil)

	require.NoError(t, e.ProcessRaw(context.Background(), "", []byte(networkEvent)))

	require.Len(t, fl.calls, 1)
	assert.Len(t, fl.calls[0], 3)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "evt-7", msg.EventID)
	assert.Equal(t, Source, msg.Source)
	assert.Equal(t, EnrichmentType, msg.Type)

	assert.Equal(t, "true", msg.Data["assetintel_ipv4_10_0_0_5_hit"])
	assert.Equal(t, "2", msg.Data["assetintel_ipv4_10_0_0_5_asset_count"])
	assert.Equal(t, `{"data":[{"id":"a"},{"id":"b"}]}`, msg.Data["assetintel_ipv4_10_0_0_5_details_json"])
	assert.Equal(t, "true", msg.Data["assetintel_domain_db01_corp_example_com_hit"])
	for k := range msg.Data {
		assert.False(t, strings.Contains(k, "127_0_0_1"), "ignored address must not produce fields: %s", k)
	}

	m := e.Metrics()
	assert.Equal(t, int64(1), m.EventsProcessed)
	assert.Equal(t, int64(1), m.EnrichmentsAdded)
}

func TestHandleEvent_LookupFailureIsHandled(t *testing.T) {
	fl := &fakeLookup{fn: func(obs []lookup.Observable) ([]lookup.Result, error) {
		return nil, &lookup.BatchError{Kind: lookup.KindAPILimitExceeded, StatusCode: 429}
	}}
	pub := &fakePublisher{}
	e := New(fl, lookup.Options{BaseURL: "https://api.example.com", SecurityToken: "s"}, pub, Config{}, nil)

	err := e.HandleEvent(context.Background(), bus.EventMessage{EventID: "evt-1", RawJSON: networkEvent})
	require.NoError(t, err)
	assert.Empty(t, pub.msgs)
	assert.Equal(t, int64(1), e.Metrics().LookupFailures)
}

func TestHandleEvent_PublishFailureIsReturned(t *testing.T) {
	fl := &fakeLookup{fn: hitAll}
	pub := &fakePublisher{err: errors.New("redis down")}
	e := New(fl, lookup.Options{}, pub, Config{}, nil)

	err := e.HandleEvent(context.Background(), bus.EventMessage{EventID: "evt-1", RawJSON: networkEvent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestHandleEvent_NothingToLookUp(t *testing.T) {
	fl := &fakeLookup{fn: hitAll}
	pub := &fakePublisher{}
	e := New(fl, lookup.Options{}, pub, Config{}, nil)

	require.NoError(t, e.HandleEvent(context.Background(), bus.EventMessage{RawJSON: `{"class_uid": 1001}`}))
	require.NoError(t, e.HandleEvent(context.Background(), bus.EventMessage{RawJSON: `not json`}))

	assert.Empty(t, fl.calls)
	assert.Empty(t, pub.msgs)
	m := e.Metrics()
	assert.Equal(t, int64(2), m.EventsProcessed)
	assert.Equal(t, int64(1), m.MalformedEvents)
}

func TestConvertToFields(t *testing.T) {
	results := []lookup.Result{
		{Observable: lookup.Observable{Value: "CVE-2021-44228", Kind: lookup.KindCVE}},
		{Observable: lookup.Observable{Value: "x", Kind: lookup.KindOther}},
		{
			Observable: lookup.Observable{Value: "host.example.com", Kind: lookup.KindDomain},
			Err:        &lookup.BatchError{Kind: lookup.KindServerError, StatusCode: 503},
		},
		{
			Observable: lookup.Observable{Value: "1.2.3.4", Kind: lookup.KindIPv4},
			Data:       &lookup.Data{Summary: []string{}, Details: json.RawMessage(`{"data":{"id":"cve"}}`)},
		},
	}

	fields := ConvertToFields(results)
	assert.Equal(t, map[string]string{
		"assetintel_cve_cve_2021_44228_artifact":      "CVE-2021-44228",
		"assetintel_cve_cve_2021_44228_hit":           "false",
		"assetintel_domain_host_example_com_artifact": "host.example.com",
		"assetintel_domain_host_example_com_hit":      "false",
		"assetintel_domain_host_example_com_error":    "Server Error",
		"assetintel_ipv4_1_2_3_4_artifact":            "1.2.3.4",
		"assetintel_ipv4_1_2_3_4_hit":                 "true",
		"assetintel_ipv4_1_2_3_4_asset_count":         "1",
		"assetintel_ipv4_1_2_3_4_details_json":        `{"data":{"id":"cve"}}`,
	}, fields)
}

func TestCompactDetails_Caps(t *testing.T) {
	long := `{"data":["` + strings.Repeat("x", 3000) + `"]}`
	got := compactDetails(json.RawMessage(long))
	assert.Len(t, got, maxDetailsJSON+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "host_example_com", sanitizeKey(" Host.Example.COM "))
	assert.Equal(t, "na", sanitizeKey("..."))
}

func TestEnricher_EndToEndWithHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/session", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"T","jwt":{"access":"T"}}`))
	})
	mux.HandleFunc("/query/assets", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("dsl_filter"), "10.0.0.5") {
			_, _ = w.Write([]byte(`{"data":[{"id":"asset-1"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := tokencache.NewMemoryCache(tokencache.MemoryOptions{})
	defer cache.Close()
	engine := lookup.NewEngine(srv.Client(), cache, lookup.Config{}, nil)

	hist, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer hist.Close()

	pub := &fakePublisher{}
	e := New(engine, lookup.Options{BaseURL: srv.URL, SecurityToken: "sec"}, pub, Config{Source: "watch", History: hist}, nil)
	require.NoError(t, e.ProcessRaw(context.Background(), "evt-9", []byte(networkEvent)))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "true", pub.msgs[0].Data["assetintel_ipv4_10_0_0_5_hit"])
	assert.Equal(t, "false", pub.msgs[0].Data["assetintel_domain_db01_corp_example_com_hit"])

	batches, err := hist.ListBatches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "watch", batches[0].Source)
	assert.Equal(t, "evt-9", batches[0].EventID)
	assert.Equal(t, 3, batches[0].ObservableCount)
	assert.Equal(t, 1, batches[0].Hits)
	assert.Equal(t, 1, batches[0].Misses)
	assert.Equal(t, 1, batches[0].Skipped)
}
