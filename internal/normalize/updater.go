package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/bundle"
	"github.com/openafc/afc-telemetry-core/internal/digest"
	"github.com/openafc/afc-telemetry-core/internal/lookup"
)

// AfcMessageUpdater is the top-level table updater (C4) for a complete
// bundle: it derives every dependent row's digest, upserts the
// eight-table normalized core, and cascades to children only for
// newly-inserted parents (spec §4.4's pre-cascade/build/bulk-upsert/
// post-cascade algorithm).
type AfcMessageUpdater struct {
	Lookups *lookup.Registry
}

// NewAfcMessageUpdater constructs an updater bound to the given lookup
// registry.
func NewAfcMessageUpdater(lookups *lookup.Registry) *AfcMessageUpdater {
	return &AfcMessageUpdater{Lookups: lookups}
}

// requestResponseIndex is the per-request-index working state accumulated
// while processing one bundle.
type requestResponseIndex struct {
	requestID string
	digest    string
	inserted  bool
	expireAt  *time.Time
	psd       []MaxPSDRow
	eirp      []MaxEIRPRow
}

// UpdateDB persists every complete bundle in bundles within the caller-
// supplied transaction tx. Any error here must cause the caller to roll
// back, invalidate lookup caches, and record a decode_error row (spec
// §4.4 "Failure").
func (u *AfcMessageUpdater) UpdateDB(ctx context.Context, tx pgx.Tx, bundles map[string]*bundle.Bundle, monthIdx int) error {
	for key, b := range bundles {
		if err := u.updateOne(ctx, tx, b, monthIdx); err != nil {
			return fmt.Errorf("bundle %q: %w", key, err)
		}
	}
	return nil
}

func (u *AfcMessageUpdater) updateOne(ctx context.Context, tx pgx.Tx, b *bundle.Bundle, monthIdx int) error {
	rawRequests, rawRequestJSON, err := alsmsg.ParseInnerRequests([]byte(b.Request.JSONData))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	responses, rawResponseJSON, err := alsmsg.ParseInnerResponses([]byte(b.Response.JSONData))
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}

	if err := u.precascadeConfigs(ctx, b, monthIdx); err != nil {
		return fmt.Errorf("precascade configs: %w", err)
	}
	if err := u.Lookups.AfcServer.UpdateDB(ctx, []string{b.Request.AfcServer}, monthIdx); err != nil {
		return fmt.Errorf("afc_server: %w", err)
	}

	results := make([]requestResponseIndex, len(rawRequests))
	for i := range rawRequests {
		if i >= len(responses) {
			return fmt.Errorf("request index %d has no matching response", i)
		}
		rr, err := u.processIndex(ctx, tx, b, i, rawRequests[i], rawRequestJSON[i], responses[i], rawResponseJSON[i], monthIdx)
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		results[i] = rr
	}

	rx, err := BuildRxEnvelope([]byte(b.Request.JSONData))
	if err != nil {
		return fmt.Errorf("rx_envelope: %w", err)
	}
	txEnv, err := BuildTxEnvelope([]byte(b.Response.JSONData))
	if err != nil {
		return fmt.Errorf("tx_envelope: %w", err)
	}
	if err := upsertEnvelope(ctx, tx, "rx_envelope", rx.Digest, monthIdx); err != nil {
		return fmt.Errorf("rx_envelope upsert: %w", err)
	}
	if err := upsertEnvelope(ctx, tx, "tx_envelope", txEnv.Digest, monthIdx); err != nil {
		return fmt.Errorf("tx_envelope upsert: %w", err)
	}

	afcServerID, _ := u.Lookups.AfcServer.KeyFor(b.Request.AfcServer, monthIdx)

	var messageID int64
	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO afc_message (rx_envelope_digest, tx_envelope_digest, rx_time, tx_time, afc_server_id, month_idx)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rx_envelope_digest, tx_envelope_digest, rx_time, tx_time, afc_server_id) DO NOTHING
		RETURNING afc_message_id`,
		rx.Digest, txEnv.Digest, b.Request.Time, b.Response.Time, afcServerID, monthIdx,
	).Scan(&messageID)
	if err == nil {
		inserted = true
	} else if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, `
			SELECT afc_message_id FROM afc_message
			WHERE rx_envelope_digest = $1 AND tx_envelope_digest = $2 AND rx_time = $3 AND tx_time = $4 AND afc_server_id = $5`,
			rx.Digest, txEnv.Digest, b.Request.Time, b.Response.Time, afcServerID,
		).Scan(&messageID)
		if err != nil {
			return fmt.Errorf("afc_message re-select: %w", err)
		}
	} else {
		return fmt.Errorf("afc_message upsert: %w", err)
	}

	if !inserted {
		// Already persisted under an earlier delivery of this bundle: P2
		// exactly-once materialization means no further writes are needed.
		return nil
	}

	for i, rr := range results {
		if err := insertRequestResponseInMessage(ctx, tx, messageID, rr); err != nil {
			return fmt.Errorf("request_response_in_message[%d]: %w", i, err)
		}
		if rr.inserted {
			if err := insertChildRows(ctx, tx, rr); err != nil {
				return fmt.Errorf("child rows[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// precascadeConfigs gathers every distinct customer/uls/geo value across
// the bundle's config set and ensures their lookup caches are populated
// before any per-index processing needs KeyFor (spec §4.4 step 1).
func (u *AfcMessageUpdater) precascadeConfigs(ctx context.Context, b *bundle.Bundle, monthIdx int) error {
	var customers, uls, geos []string
	seen := map[string]bool{}
	for _, cfg := range b.Configs {
		if cfg.Customer != "" && !seen["c:"+cfg.Customer] {
			seen["c:"+cfg.Customer] = true
			customers = append(customers, cfg.Customer)
		}
		if cfg.UlsID != "" && !seen["u:"+cfg.UlsID] {
			seen["u:"+cfg.UlsID] = true
			uls = append(uls, cfg.UlsID)
		}
		if cfg.GeoDataVersion != "" && !seen["g:"+cfg.GeoDataVersion] {
			seen["g:"+cfg.GeoDataVersion] = true
			geos = append(geos, cfg.GeoDataVersion)
		}
	}
	if len(customers) > 0 {
		if err := u.Lookups.Customer.UpdateDB(ctx, customers, monthIdx); err != nil {
			return err
		}
	}
	if len(uls) > 0 {
		if err := u.Lookups.UlsDataVersion.UpdateDB(ctx, uls, monthIdx); err != nil {
			return err
		}
	}
	if len(geos) > 0 {
		if err := u.Lookups.GeoDataVersion.UpdateDB(ctx, geos, monthIdx); err != nil {
			return err
		}
	}
	return nil
}

// applicableConfig returns the config message governing request index i:
// either the single catch-all (index -1) or the per-index config.
func applicableConfig(b *bundle.Bundle, i int) *alsmsg.Message {
	if c, ok := b.Configs[-1]; ok {
		return c
	}
	return b.Configs[i]
}

func (u *AfcMessageUpdater) processIndex(
	ctx context.Context, tx pgx.Tx, b *bundle.Bundle, idx int,
	innerReq alsmsg.InnerRequest, rawReq json.RawMessage,
	innerResp alsmsg.InnerResponse, rawResp json.RawMessage,
	monthIdx int,
) (requestResponseIndex, error) {
	cfg := applicableConfig(b, idx)
	if cfg == nil {
		return requestResponseIndex{}, fmt.Errorf("no applicable config")
	}

	dd, err := BuildDeviceDescriptor(innerReq.DeviceDescriptor)
	if err != nil {
		return requestResponseIndex{}, err
	}
	if err := upsertDeviceDescriptor(ctx, tx, dd, monthIdx); err != nil {
		return requestResponseIndex{}, fmt.Errorf("device_descriptor: %w", err)
	}

	loc, err := BuildLocation(innerReq.Location)
	if err != nil {
		return requestResponseIndex{}, err
	}
	if err := upsertLocation(ctx, tx, loc, monthIdx); err != nil {
		return requestResponseIndex{}, fmt.Errorf("location: %w", err)
	}

	reqCJ, err := BuildCompressedJSON(rawReq)
	if err != nil {
		return requestResponseIndex{}, err
	}
	if err := upsertCompressedJSON(ctx, tx, reqCJ, monthIdx); err != nil {
		return requestResponseIndex{}, fmt.Errorf("compressed_json(request): %w", err)
	}

	strippedResp, err := StripResponse(rawResp)
	if err != nil {
		return requestResponseIndex{}, err
	}
	respCJ, err := BuildCompressedJSON(strippedResp)
	if err != nil {
		return requestResponseIndex{}, err
	}
	if err := upsertCompressedJSON(ctx, tx, respCJ, monthIdx); err != nil {
		return requestResponseIndex{}, fmt.Errorf("compressed_json(response): %w", err)
	}

	configDigest := digest.UUID([]byte(cfg.JSONData)).String()
	if err := upsertAfcConfig(ctx, tx, configDigest, cfg.JSONData, monthIdx); err != nil {
		return requestResponseIndex{}, fmt.Errorf("afc_config: %w", err)
	}

	strippedReq, err := StripRequest(rawReq)
	if err != nil {
		return requestResponseIndex{}, err
	}
	rrDigest, err := BuildRequestResponseDigest(strippedReq, strippedResp, cfg.JSONData, cfg.Customer, cfg.UlsID, cfg.GeoDataVersion)
	if err != nil {
		return requestResponseIndex{}, err
	}

	customerID, _ := u.Lookups.Customer.KeyFor(cfg.Customer, monthIdx)
	ulsID, _ := u.Lookups.UlsDataVersion.KeyFor(cfg.UlsID, monthIdx)
	geoID, _ := u.Lookups.GeoDataVersion.KeyFor(cfg.GeoDataVersion, monthIdx)

	rr := RequestResponseRow{
		Digest:              rrDigest,
		DeviceDescriptorDig: dd.Digest,
		LocationDigest:      loc.Digest,
		RequestJSONDigest:   reqCJ.Digest,
		ResponseJSONDigest:  respCJ.Digest,
		ConfigDigest:        configDigest,
		Customer:            customerID,
		UlsID:               ulsID,
		GeoDataVersion:      geoID,
	}
	inserted, err := upsertRequestResponse(ctx, tx, rr, monthIdx)
	if err != nil {
		return requestResponseIndex{}, fmt.Errorf("request_response: %w", err)
	}

	out := requestResponseIndex{requestID: innerReq.RequestID, digest: rrDigest, inserted: inserted}
	if t, ok := innerResp.ExpireTime(); ok {
		out.expireAt = &t
	}
	if inserted {
		psd, err := BuildMaxPSDRows(rrDigest, innerResp.AvailableFrequencyInfo)
		if err != nil {
			return requestResponseIndex{}, err
		}
		eirp, err := BuildMaxEIRPRows(rrDigest, innerResp.AvailableChannelInfo)
		if err != nil {
			return requestResponseIndex{}, err
		}
		out.psd = psd
		out.eirp = eirp
	}
	return out, nil
}

func upsertDeviceDescriptor(ctx context.Context, tx pgx.Tx, dd DeviceDescriptorRow, monthIdx int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO device_descriptor (digest, serial_number, certification_digest, month_idx)
		VALUES ($1, $2, $3, $4) ON CONFLICT (digest) DO NOTHING`,
		dd.Digest, dd.SerialNumber, dd.CertificationListDigest, monthIdx)
	if err != nil {
		return err
	}
	for _, c := range BuildCertificationRows(dd.CertificationListDigest, dd.CertificationList) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO certification (list_digest, list_index, ruleset, cert_id)
			VALUES ($1, $2, $3, $4) ON CONFLICT (list_digest, list_index) DO NOTHING`,
			c.ListDigest, c.ListIndex, c.Ruleset, c.CertID); err != nil {
			return err
		}
	}
	return nil
}

func upsertLocation(ctx context.Context, tx pgx.Tx, loc LocationRow, monthIdx int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO location (digest, coordinates, uncertainty_radius_m, deployment_type, height_m, height_type, height_uncertainty_m, month_idx)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (digest) DO NOTHING`,
		loc.Digest, loc.Point.Lon, loc.Point.Lat, loc.RadiusM, loc.DeploymentType, loc.HeightM, loc.HeightType, loc.HeightUncertM, monthIdx)
	return err
}

func upsertCompressedJSON(ctx context.Context, tx pgx.Tx, cj CompressedJSONRow, monthIdx int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO compressed_json (digest, compressed_data, month_idx)
		VALUES ($1, $2, $3) ON CONFLICT (digest) DO NOTHING`,
		cj.Digest, cj.Compressed, monthIdx)
	return err
}

func upsertAfcConfig(ctx context.Context, tx pgx.Tx, configDigest, configText string, monthIdx int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO afc_config (digest, config_text, month_idx)
		VALUES ($1, $2, $3) ON CONFLICT (digest) DO NOTHING`,
		configDigest, configText, monthIdx)
	return err
}

func upsertEnvelope(ctx context.Context, tx pgx.Tx, table, digestHex string, monthIdx int) error {
	sql := fmt.Sprintf(`INSERT INTO %s (digest, month_idx) VALUES ($1, $2) ON CONFLICT (digest) DO NOTHING`, table)
	_, err := tx.Exec(ctx, sql, digestHex, monthIdx)
	return err
}

func upsertRequestResponse(ctx context.Context, tx pgx.Tx, rr RequestResponseRow, monthIdx int) (bool, error) {
	var returned string
	err := tx.QueryRow(ctx, `
		INSERT INTO request_response
			(digest, device_descriptor_digest, location_digest, request_json_digest, response_json_digest,
			 config_digest, customer_id, uls_data_version_id, geo_data_version_id, month_idx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (digest) DO NOTHING RETURNING digest`,
		rr.Digest, rr.DeviceDescriptorDig, rr.LocationDigest, rr.RequestJSONDigest, rr.ResponseJSONDigest,
		rr.ConfigDigest, rr.Customer, rr.UlsID, rr.GeoDataVersion, monthIdx,
	).Scan(&returned)
	if err == nil {
		return true, nil
	}
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return false, err
}

func insertRequestResponseInMessage(ctx context.Context, tx pgx.Tx, messageID int64, rr requestResponseIndex) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO request_response_in_message (message_id, request_id, request_response_digest, expire_time)
		VALUES ($1, $2, $3, $4)`,
		messageID, rr.requestID, rr.digest, rr.expireAt)
	return err
}

func insertChildRows(ctx context.Context, tx pgx.Tx, rr requestResponseIndex) error {
	for _, p := range rr.psd {
		if _, err := tx.Exec(ctx, `
			INSERT INTO max_psd (request_response_digest, channel_cfi, max_psd) VALUES ($1, $2, $3)`,
			p.RequestResponseDigest, p.ChannelCFI, p.MaxPSD); err != nil {
			return err
		}
	}
	for _, e := range rr.eirp {
		if _, err := tx.Exec(ctx, `
			INSERT INTO max_eirp (request_response_digest, channel_cfi, max_eirp) VALUES ($1, $2, $3)`,
			e.RequestResponseDigest, e.ChannelCFI, e.MaxEIRP); err != nil {
			return err
		}
	}
	return nil
}

// WriteDecodeError records a rejected or expired bundle/message to the
// decode_error table (spec §4.2, §4.5 "Failure").
func WriteDecodeError(ctx context.Context, tx pgx.Tx, topic string, partition int32, offset int64, reason string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO decode_error (topic, partition, "offset", reason, payload, observed_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		topic, partition, offset, reason, payload)
	return err
}
