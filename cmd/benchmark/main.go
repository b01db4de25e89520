package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/approval"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/punchamoorthee/claimrelay/internal/service"
	"github.com/punchamoorthee/claimrelay/internal/store"
	"github.com/punchamoorthee/claimrelay/internal/transport"
)

const (
	sourceRoom = int64(-100)
	memberID   = int64(42)
)

// Config holds the benchmark settings
var (
	assetCount  int
	targetRooms int
	concurrency int
	replies     int
	workload    string
)

// Metrics
var (
	totalEvents uint64
	failed      uint64
	nextMessage int64 = 1_000_000
)

func init() {
	flag.IntVar(&assetCount, "assets", 500, "Number of assets to claim")
	flag.IntVar(&targetRooms, "rooms", 3, "Number of Target rooms")
	flag.IntVar(&concurrency, "workers", 16, "Number of concurrent workers")
	flag.IntVar(&replies, "replies", 8, "Target-room replies per exchange")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

type job struct {
	rec  domain.CorrelationRecord
	text string
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Assets: %d | Workers: %d | Replies: %d", workload, assetCount, concurrency, replies)

	ctx := context.Background()
	assets := store.NewMemoryStore()
	rooms := registry.New(nil)
	corr := correlation.NewStore()
	rec := transport.NewRecorder()

	rooms.SetKind(ctx, sourceRoom, registry.KindSource)
	for i := 0; i < targetRooms; i++ {
		rooms.SetKind(ctx, int64(-200-i), registry.KindTarget)
	}

	relay := service.New(service.Deps{
		Assets:       assets,
		Rooms:        rooms,
		Correlations: corr,
		Responses:    correlation.NewResponseLog(),
		Approvals:    approval.NewStore(),
		Transport:    rec,
	}, service.Options{}, nil)

	// 1. Seed and claim every asset
	for i := 0; i < assetCount; i++ {
		a := domain.Asset{ID: fmt.Sprintf("bench-%d", i), GroupNumber: i%50 + 1, Handle: fmt.Sprintf("h%d", i), Status: domain.StatusOpen}
		if err := assets.Create(ctx, a); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}
	claimStart := time.Now()
	for i := 0; i < assetCount; i++ {
		msg := domain.Message{RoomID: sourceRoom, MessageID: int64(i + 1), SenderID: memberID, Text: "150"}
		if err := relay.HandleMessage(ctx, msg); err != nil {
			log.Fatalf("claim failed: %v", err)
		}
	}
	claimTime := time.Since(claimStart)
	exchanges := corr.OpenRecords()
	log.Printf("Claimed %d assets in %s", len(exchanges), claimTime)

	// 2. Fan duplicate replies out over the workers
	jobs := buildJobs(exchanges)
	start := time.Now()
	queue := make(chan job)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(ctx, &wg, relay, queue)
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()

	printResults(time.Since(start), claimTime, len(exchanges), relayed(rec))
}

func buildJobs(exchanges []domain.CorrelationRecord) []job {
	var jobs []job
	for _, ex := range exchanges {
		for i := 0; i < replies; i++ {
			text := "+" + ex.ClaimedAmount
			if i%2 == 1 {
				text = ex.ClaimedAmount
			}
			jobs = append(jobs, job{rec: ex, text: text})
		}
	}
	if workload == "hotspot" && len(exchanges) > 0 {
		// Hotspot: 90% extra traffic on the first exchange
		hot := exchanges[0]
		for i := 0; i < len(jobs)*9; i++ {
			jobs = append(jobs, job{rec: hot, text: hot.ClaimedAmount})
		}
	}
	rand.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
	return jobs
}

func worker(ctx context.Context, wg *sync.WaitGroup, relay *service.Relay, queue <-chan job) {
	defer wg.Done()
	for j := range queue {
		msg := domain.Message{
			RoomID:    j.rec.TargetRoomID,
			MessageID: atomic.AddInt64(&nextMessage, 1),
			SenderID:  memberID,
			Text:      j.text,
			ReplyTo:   &domain.Reply{MessageID: j.rec.TargetMessageID},
		}
		atomic.AddUint64(&totalEvents, 1)
		if err := relay.HandleMessage(ctx, msg); err != nil {
			atomic.AddUint64(&failed, 1)
		}
	}
}

// relayed counts the answers that reached the Source room.
func relayed(rec *transport.Recorder) int {
	n := 0
	for _, s := range rec.Sent(sourceRoom) {
		if !s.Media {
			n++
		}
	}
	return n
}

func printResults(d, claimTime time.Duration, exchanges, relayedCount int) {
	total := atomic.LoadUint64(&totalEvents)
	fErr := atomic.LoadUint64(&failed)

	duplicates := 0
	if relayedCount > exchanges {
		duplicates = relayedCount - exchanges
	}

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"claim_duration_sec": claimTime.Seconds(),
		"exchanges":          exchanges,
		"total_replies":      total,
		"throughput_eps":     float64(total) / d.Seconds(),
		"relayed":            relayedCount,
		"duplicate_relays":   duplicates,
		"errors":             fErr,
	}

	// Print JSON
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	json.NewEncoder(file).Encode(results)
	file.Close()

	if duplicates > 0 {
		log.Fatalf("at-most-once violated: %d duplicate relays", duplicates)
	}
}
