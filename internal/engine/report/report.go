// Package report builds DistributionReport: the per-campaign breakdown of
// how evenly each variation block's options were actually selected, plus a
// chi-square goodness-of-fit statistic against a uniform null hypothesis,
// and CampaignStats: the delivery/read performance summary. Both are
// reconstructed entirely from variation_log, without re-rendering any
// message.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/harborwave/humanizer/internal/domain"
)

// SelectionSource supplies every logged selection set for a campaign.
type SelectionSource interface {
	Selections(ctx context.Context, campaignID string) ([][]domain.Selection, error)
}

// EntrySource supplies every logged variation_log row for a campaign, in
// send order, for delivery-rate computation and export.
type EntrySource interface {
	Entries(ctx context.Context, campaignID string) ([]domain.VariationLogEntry, error)
}

// Builder assembles DistributionReport and CampaignStats values from logged
// variation_log rows.
type Builder struct {
	source  SelectionSource
	entries EntrySource
	clock   func() int64
}

func NewBuilder(source SelectionSource, entries EntrySource, clockFn func() int64) *Builder {
	return &Builder{source: source, entries: entries, clock: clockFn}
}

// Build aggregates all logged selections for campaignID into a
// DistributionReport. Blocks are keyed by BlockIndex; within a block,
// buckets are ordered by Count, highest first, with ties in OptionIndex
// order.
func (b *Builder) Build(ctx context.Context, campaignID string) (domain.DistributionReport, error) {
	sets, err := b.source.Selections(ctx, campaignID)
	if err != nil {
		return domain.DistributionReport{}, err
	}

	buckets, sampleSize, chiSquare, degreesOfFreedom := distributionBuckets(sets)

	var generatedAt int64
	if b.clock != nil {
		generatedAt = b.clock()
	}

	return domain.DistributionReport{
		CampaignID:       campaignID,
		SampleSize:       sampleSize,
		Buckets:          buckets,
		ChiSquare:        math.Round(chiSquare*10000) / 10000,
		DegreesOfFreedom: degreesOfFreedom,
		GeneratedAt:      time.Unix(generatedAt, 0).UTC(),
	}, nil
}

// Stats computes the ReportEngine's full statistical summary for a
// campaign: option distribution plus delivery/read performance, sourced
// from variation_log's delivered/read flags (kept current by
// tracker.PostgresStatusUpdater's delivery-event handling).
func (b *Builder) Stats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	start := time.Now()

	entries, err := b.entries.Entries(ctx, campaignID)
	if err != nil {
		return domain.CampaignStats{}, err
	}

	sets := make([][]domain.Selection, len(entries))
	var delivered, read int
	var first, last *time.Time
	for i, e := range entries {
		sets[i] = e.Selections
		if e.Delivered {
			delivered++
		}
		if e.Read {
			read++
		}
		sentAt := time.Unix(e.SentAt, 0).UTC()
		if first == nil || sentAt.Before(*first) {
			first = &sentAt
		}
		if last == nil || sentAt.After(*last) {
			last = &sentAt
		}
	}

	buckets, sampleSize, _, _ := distributionBuckets(sets)

	var deliveryRate, readRate float64
	if sampleSize > 0 {
		deliveryRate = float64(delivered) / float64(sampleSize)
	}
	if delivered > 0 {
		readRate = float64(read) / float64(delivered)
	}

	var generatedAt int64
	if b.clock != nil {
		generatedAt = b.clock()
	}

	return domain.CampaignStats{
		CampaignID:          campaignID,
		SampleSize:          sampleSize,
		Buckets:             buckets,
		DeliveredCount:      delivered,
		ReadCount:           read,
		DeliveryRate:        math.Round(deliveryRate*10000) / 10000,
		ReadRate:            math.Round(readRate*10000) / 10000,
		FirstSentAt:         first,
		LastSentAt:          last,
		CalculationDuration: time.Since(start),
		GeneratedAt:         time.Unix(generatedAt, 0).UTC(),
	}, nil
}

// exportColumns is the fixed nine-column CSV/JSON export shape.
var exportColumns = []string{
	"id", "campaign_id", "message_id", "template", "selected_variations",
	"recipient", "sent_at", "delivered", "read",
}

// Export renders every logged row for campaignID as "csv" (RFC 4180 quoted,
// via encoding/csv) or "json" (an array of the same fields per record).
func (b *Builder) Export(ctx context.Context, campaignID, format string) ([]byte, error) {
	entries, err := b.entries.Entries(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	switch format {
	case "csv":
		return exportCSV(entries)
	case "json":
		return exportJSON(entries)
	default:
		return nil, fmt.Errorf("report: unsupported export format %q", format)
	}
}

func exportCSV(entries []domain.VariationLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("report: write csv header: %w", err)
	}
	for _, e := range entries {
		selJSON, err := json.Marshal(e.Selections)
		if err != nil {
			return nil, fmt.Errorf("report: encode selections: %w", err)
		}
		row := []string{
			e.ID, e.CampaignID, e.MessageID, e.TemplateRaw, string(selJSON),
			e.RecipientAddress, time.Unix(e.SentAt, 0).UTC().Format(time.RFC3339),
			strconv.FormatBool(e.Delivered), strconv.FormatBool(e.Read),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("report: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

type exportRecord struct {
	ID                 string             `json:"id"`
	CampaignID         string             `json:"campaign_id"`
	MessageID          string             `json:"message_id"`
	Template           string             `json:"template"`
	SelectedVariations []domain.Selection `json:"selected_variations"`
	Recipient          string             `json:"recipient"`
	SentAt             time.Time          `json:"sent_at"`
	Delivered          bool               `json:"delivered"`
	Read               bool               `json:"read"`
}

func exportJSON(entries []domain.VariationLogEntry) ([]byte, error) {
	records := make([]exportRecord, len(entries))
	for i, e := range entries {
		records[i] = exportRecord{
			ID:                 e.ID,
			CampaignID:         e.CampaignID,
			MessageID:          e.MessageID,
			Template:           e.TemplateRaw,
			SelectedVariations: e.Selections,
			Recipient:          e.RecipientAddress,
			SentAt:             time.Unix(e.SentAt, 0).UTC(),
			Delivered:          e.Delivered,
			Read:               e.Read,
		}
	}
	out, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("report: encode json export: %w", err)
	}
	return out, nil
}

// distributionBuckets is the shared aggregation behind Build and Stats: it
// groups selections by block, computes each option's observed count and
// fraction, and the chi-square statistic against a uniform null hypothesis.
// A block's option count is its highest observed OptionIndex plus one;
// blocks where that count is below two are skipped — there is no variation
// to test.
func distributionBuckets(sets [][]domain.Selection) (buckets []domain.DistributionBucket, sampleSize int, chiSquare float64, degreesOfFreedom int) {
	type key struct {
		block, option int
	}
	counts := map[key]int{}
	text := map[key]string{}
	blockOptionCount := map[int]int{}

	for _, sels := range sets {
		for _, s := range sels {
			k := key{s.BlockIndex, s.OptionIndex}
			counts[k]++
			text[k] = s.OptionText
			if s.OptionIndex+1 > blockOptionCount[s.BlockIndex] {
				blockOptionCount[s.BlockIndex] = s.OptionIndex + 1
			}
		}
	}

	sampleSize = len(sets)

	blocks := make([]int, 0, len(blockOptionCount))
	for g := range blockOptionCount {
		blocks = append(blocks, g)
	}
	sort.Ints(blocks)

	for _, blk := range blocks {
		nOptions := blockOptionCount[blk]
		if nOptions < 2 {
			continue
		}
		total := 0
		for o := 0; o < nOptions; o++ {
			total += counts[key{blk, o}]
		}
		if total == 0 {
			continue
		}
		expected := float64(total) / float64(nOptions)
		start := len(buckets)
		for o := 0; o < nOptions; o++ {
			observed := counts[key{blk, o}]
			buckets = append(buckets, domain.DistributionBucket{
				BlockIndex:  blk,
				OptionIndex: o,
				OptionText:  text[key{blk, o}],
				Count:       observed,
				Fraction:    float64(observed) / float64(total),
			})
			diff := float64(observed) - expected
			chiSquare += (diff * diff) / expected
		}
		blockBuckets := buckets[start:]
		sort.SliceStable(blockBuckets, func(i, j int) bool { return blockBuckets[i].Count > blockBuckets[j].Count })
		degreesOfFreedom += nOptions - 1
	}

	return buckets, sampleSize, chiSquare, degreesOfFreedom
}
