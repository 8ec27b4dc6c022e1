// Package precompute implements the precomputation hook spec §4.7 names:
// "invalidated rows are marked Precomp and asynchronously recomputed by
// dispatching fresh AFC requests (bounded by a configurable concurrency
// quota)". Precomputation is explicitly orthogonal to the rest of the
// response-cache spec (§4.7); this package is the one concrete consumer
// of the Precomp-state/quota hook points rcache.Store exposes, and of the
// certification/config coalescing batchers internal/gateway builds.
//
// Grounded on net/http as a plain client: no pack example imports an HTTP
// client library for a one-shot RPC to an out-of-process peer (gollum's
// contrib/native bindings wrap an in-process C library, not a network
// peer), so this is a documented stdlib exception (see DESIGN.md).
package precompute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/certresolver"
	"github.com/openafc/afc-telemetry-core/internal/gateway"
	"github.com/openafc/afc-telemetry-core/internal/rcache"
)

// batcherDeadline bounds how long one recomputation waits on the
// certification/config coalescing batchers before giving up - generous
// relative to a DB round trip, since this path runs off the critical path
// of any caller-facing request (spec §4.7 "Precomputation" is
// fire-and-forget).
const batcherDeadline = 5 * time.Second

// Dispatcher launches bounded-concurrency AFC recomputation requests,
// gated by rcache.Store's precompute quota (spec §5 "counting semaphore
// with quota N", default 10).
type Dispatcher struct {
	store               *rcache.Store
	gateway             *gateway.Gateway
	afcReqURL           string
	vendorExtensionKeys []string
	httpClient          *http.Client
}

// New builds a Dispatcher targeting afcReqURL (spec §6.4 "afc_req_url
// (precomputation target)"). vendorExtensionKeys names the top-level
// fields spec §6.4's "afc_state_vendor_extensions" carries forward from a
// stale response into its recomputation request.
func New(store *rcache.Store, gw *gateway.Gateway, afcReqURL string, vendorExtensionKeys []string) *Dispatcher {
	return &Dispatcher{
		store:               store,
		gateway:             gw,
		afcReqURL:           afcReqURL,
		vendorExtensionKeys: vendorExtensionKeys,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
}

// Trigger recomputes one stale cache entry: it re-checks the AP's
// certification decision and fetches the current AFC-config body, then -
// if still allowed - posts requestJSON to the AFC engine and writes the
// fresh (request, response) pair back through Store.Update. If the
// certification is now denied, the request is not sent and the entry is
// left in its current state for the next invalidation/update cycle to
// resolve.
func (d *Dispatcher) Trigger(
	ctx context.Context,
	digest string,
	requestJSON, staleResponseJSON []byte,
	requestOf func([]byte) (rcache.RequestFields, bool),
	responseOf func([]byte) (rcache.ResponseFields, bool),
) error {
	release, err := d.store.AcquirePrecompute(ctx, digest)
	if err != nil {
		return err
	}
	defer release()

	requestJSON, err = alsmsg.PropagateVendorExtensions(requestJSON, staleResponseJSON, d.vendorExtensionKeys)
	if err != nil {
		return fmt.Errorf("precompute: propagate vendor extensions: %w", err)
	}

	fields, ok := requestOf(requestJSON)
	if !ok {
		return fmt.Errorf("precompute: could not derive request fields for digest %s", digest)
	}

	deadline := time.Now().Add(batcherDeadline)
	certQuery := certresolver.Query{Serial: fields.Serial}
	for i := range fields.Rulesets {
		certQuery.Certs = append(certQuery.Certs, certresolver.CertPair{Ruleset: fields.Rulesets[i], CertID: fields.CertIDs[i]})
	}
	certResult, _, err := d.gateway.Certification.Get(ctx, gateway.EncodeCertKey(certQuery), deadline)
	if err != nil {
		return fmt.Errorf("precompute: certification lookup: %w", err)
	}
	if len(certResult.Allowed()) == 0 {
		return nil
	}

	if len(fields.Rulesets) > 0 {
		if _, _, err := d.gateway.Config.Get(ctx, fields.Rulesets[0], deadline); err != nil {
			return fmt.Errorf("precompute: config lookup: %w", err)
		}
	}

	responseJSON, err := d.callAfcEngine(ctx, requestJSON)
	if err != nil {
		return err
	}

	_, err = d.store.Update(ctx, []rcache.UpdateEntry{
		{RequestJSON: requestJSON, ResponseJSON: responseJSON, Digest: digest},
	}, requestOf, responseOf)
	return err
}

// scanInterval controls how often Run polls for newly Invalid entries.
const scanInterval = 2 * time.Second

// scanLimit bounds how many Invalid entries one poll claims; AcquirePrecompute's
// quota semaphore, not this limit, is what actually bounds concurrency.
const scanLimit = 100

// Run polls Store for Invalid entries and triggers recomputation for each,
// one goroutine per entry, until ctx is cancelled. AcquirePrecompute's
// quota semaphore bounds how many of those goroutines are actually making
// an outbound AFC request at any moment; the rest block waiting for a
// slot.
func (d *Dispatcher) Run(
	ctx context.Context,
	log *logrus.Entry,
	requestOf func([]byte) (rcache.RequestFields, bool),
	responseOf func([]byte) (rcache.ResponseFields, bool),
) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entries, err := d.store.ListInvalid(ctx, scanLimit)
		if err != nil {
			log.WithError(err).Warn("precompute: list invalid entries")
			continue
		}
		for _, e := range entries {
			go func(e rcache.InvalidEntry) {
				if err := d.Trigger(ctx, e.Digest, e.RequestJSON, e.ResponseJSON, requestOf, responseOf); err != nil {
					log.WithError(err).WithField("digest", e.Digest).Warn("precompute: trigger")
				}
			}(e)
		}
	}
}

func (d *Dispatcher) callAfcEngine(ctx context.Context, requestJSON []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.afcReqURL, bytes.NewReader(requestJSON))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("precompute: afc engine request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("precompute: afc engine returned status %d", resp.StatusCode)
	}

	var responseJSON json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&responseJSON); err != nil {
		return nil, fmt.Errorf("precompute: decode afc engine response: %w", err)
	}
	return responseJSON, nil
}
