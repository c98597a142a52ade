// Package history implements the asynchronous historian: it pops session
// event records from the Redis queue the relay server publishes to and
// persists them to PostgreSQL, so match outcomes survive the (deliberately
// memory-only) relay process.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/duelforge/duel-server/internal/database"
	"github.com/duelforge/duel-server/internal/events"
)

// Service encapsulates the Redis + DB logic for capturing session events and
// marking matches abandoned when an inactivity threshold is reached.
type Service struct {
	redisClient  *redis.Client
	batchSize    int
	flushDelay   time.Duration
	inactivity   time.Duration // duration until a match is marked "abandoned"
	lastActivity sync.Map      // map[uuid.UUID]time.Time per match

	batchMu  sync.Mutex
	batch    []events.SessionEventRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewService constructs a Service instance from environment variables or defaults.
func NewService() *Service {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)
	inactivitySec := getEnvInt("MATCH_INACTIVITY_TIMEOUT_SEC", 600) // default 10 min

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		inactivity:  time.Duration(inactivitySec) * time.Second,
		batch:       make([]events.SessionEventRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the two main loops:
//  1. A loop that reads from the Redis queue, accumulates records in a batch,
//     and flushes them to the DB.
//  2. A periodic inactivity check that marks stale matches abandoned.
func (s *Service) Run() {
	database.ConnectDB()

	go s.readRedisLoop()
	go s.inactivityLoop()

	log.Println("duel-historian service started.")
	<-s.ctx.Done()
	log.Println("duel-historian shutting down.")
}

// Stop gracefully stops the historian service.
func (s *Service) Stop() {
	s.cancelFn()
}

// readRedisLoop continuously uses BLPop to retrieve records from the Redis queue.
func (s *Service) readRedisLoop() {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("HISTORIAN_QUEUE_NAME", events.DefaultQueueName)

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.flushBatchToDB()

		default:
			// BLPop with a 3-second timeout so context cancellation is handled.
			res, err := s.redisClient.BLPop(s.ctx, 3*time.Second, queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record events.SessionEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid session event record: %v\n", err)
				continue
			}

			s.lastActivity.Store(record.MatchID, time.Now())
			s.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record to the in-memory batch and flushes if the
// threshold is reached.
func (s *Service) appendToBatch(record events.SessionEventRecord) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.batch = append(s.batch, record)
	if len(s.batch) >= s.batchSize {
		s.flushLocked()
	}
}

// flushBatchToDB flushes the current batch to the database in a single transaction.
func (s *Service) flushBatchToDB() {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.flushLocked()
}

func (s *Service) flushLocked() {
	if len(s.batch) == 0 {
		return
	}
	batchCopy := make([]events.SessionEventRecord, len(s.batch))
	copy(batchCopy, s.batch)
	s.batch = s.batch[:0]

	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batchCopy {
			if err := insertSessionEventTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertSessionEventTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v\n", err)
	} else {
		log.Printf("Flushed %d session events to DB.\n", len(batchCopy))
	}
}

// inactivityLoop periodically checks whether any match has been inactive
// beyond the configured threshold, and marks such matches abandoned.
func (s *Service) inactivityLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			s.lastActivity.Range(func(key, val interface{}) bool {
				matchID, ok1 := key.(uuid.UUID)
				last, ok2 := val.(time.Time)
				if ok1 && ok2 && now.Sub(last) > s.inactivity {
					s.markMatchAbandoned(matchID)
					s.lastActivity.Delete(matchID)
				}
				return true
			})
		}
	}
}

// markMatchAbandoned marks a match as 'abandoned' in the database if it was
// still 'in_progress'.
func (s *Service) markMatchAbandoned(matchID uuid.UUID) {
	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE matches
			SET status = 'abandoned', end_time = NOW()
			WHERE id = $1 AND status = 'in_progress'
		`
		_, e := tx.Exec(ctx, q, matchID)
		return e
	})
	if err != nil {
		log.Printf("failed to mark match %v abandoned: %v", matchID, err)
	} else {
		log.Printf("Marked match %v as 'abandoned' due to inactivity.", matchID)
	}
}

// insertSessionEventTx inserts a single event record into match_events and
// upserts the match row. A round_end event finalizes the match; room_closed
// closes it if it never reached a result.
func insertSessionEventTx(ctx context.Context, tx pgx.Tx, rec events.SessionEventRecord) error {
	upsertMatchQ := `
		INSERT INTO matches (id, room_code, status, start_time)
		VALUES ($1, $2, 'in_progress', NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := tx.Exec(ctx, upsertMatchQ, rec.MatchID, rec.RoomCode)
	if err != nil {
		return err
	}

	eventInsertQ := `
		INSERT INTO match_events (
			match_id, session_id, event_type, payload, event_time
		) VALUES ($1, $2, $3, $4, to_timestamp($5::double precision / 1000))
	`
	jsonPayload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, eventInsertQ,
		rec.MatchID, rec.SessionID, rec.EventType, jsonPayload, rec.Timestamp,
	)
	if err != nil {
		return err
	}

	switch rec.EventType {
	case "round_end":
		winner, _ := rec.Payload["winner"].(string)
		finalizeQ := `
			UPDATE matches
			SET status = 'completed', winner = $2, end_time = NOW()
			WHERE id = $1 AND status = 'in_progress'
		`
		_, err = tx.Exec(ctx, finalizeQ, rec.MatchID, winner)
	case "room_closed":
		closeQ := `
			UPDATE matches
			SET status = 'closed', end_time = NOW()
			WHERE id = $1 AND status = 'in_progress'
		`
		_, err = tx.Exec(ctx, closeQ, rec.MatchID)
	}
	return err
}

// beginTxFunc starts a transaction on the pool, calls f with it, and commits
// or rolls back as needed.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or
// returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
