package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/config"
	"joke-catalog/internal/database/migrations"
	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/models"
	"joke-catalog/pkg/logger"
)

type ConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to database at %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, &ConnectionError{
			Host: cfg.Host,
			Port: cfg.Port,
			Err:  err,
		}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{
			Host: cfg.Host,
			Port: cfg.Port,
			Err:  err,
		}
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate runs a goose command against the embedded migrations.
func Migrate(ctx context.Context, connStr, command string, args ...string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetTableName("schema_migrations")

	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}

type JokeRepository struct {
	db *DB
}

func NewJokeRepository(db *DB) *JokeRepository {
	return &JokeRepository{db: db}
}

// jokeRow is the column layout of the jokes table.
type jokeRow struct {
	ID          int
	Category    string
	Type        string
	Joke        string
	Setup       string
	Delivery    string
	Flags       int16
	Lang        string
	Fingerprint string
}

func toRow(j models.Joke) jokeRow {
	r := jokeRow{
		ID:          j.ID,
		Category:    string(j.Category),
		Type:        string(j.Type()),
		Flags:       int16(j.Flags),
		Lang:        j.Lang,
		Fingerprint: fingerprint.Of(j.Payload),
	}
	switch p := j.Payload.(type) {
	case models.Single:
		r.Joke = p.Joke
	case models.TwoPart:
		r.Setup = p.Setup
		r.Delivery = p.Delivery
	}
	return r
}

func (r jokeRow) joke() (models.Joke, error) {
	payload, err := models.NewPayload(models.JokeType(r.Type), r.Joke, r.Setup, r.Delivery)
	if err != nil {
		return models.Joke{}, fmt.Errorf("joke %d: %w", r.ID, err)
	}
	cat := models.Category(r.Category)
	if !cat.Valid() {
		return models.Joke{}, fmt.Errorf("joke %d: unknown category %q", r.ID, r.Category)
	}
	return models.Joke{
		ID: r.ID,
		Draft: models.Draft{
			Category: cat,
			Flags:    models.FlagSet(r.Flags) & models.AllFlags,
			Lang:     r.Lang,
			Payload:  payload,
		},
	}, nil
}

func (r jokeRow) args() []any {
	return []any{r.ID, r.Category, r.Type, r.Joke, r.Setup, r.Delivery, r.Flags, r.Lang, r.Fingerprint}
}

const selectJokes = `SELECT id, category, type, joke, setup, delivery, flags, lang, fingerprint FROM jokes`

const insertJoke = `
	INSERT INTO jokes (id, category, type, joke, setup, delivery, flags, lang, fingerprint)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT DO NOTHING
`

func scanRow(row pgx.Row) (jokeRow, error) {
	var r jokeRow
	err := row.Scan(&r.ID, &r.Category, &r.Type, &r.Joke, &r.Setup, &r.Delivery, &r.Flags, &r.Lang, &r.Fingerprint)
	return r, err
}

// LoadAll returns every stored joke ordered by id. Rows that no longer form
// a valid joke are logged and skipped.
func (r *JokeRepository) LoadAll(ctx context.Context) ([]models.Joke, error) {
	rows, err := r.db.Pool.Query(ctx, selectJokes+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jokes: %w", err)
	}
	defer rows.Close()

	var jokes []models.Joke
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan joke: %w", err)
		}
		joke, err := row.joke()
		if err != nil {
			logger.Warn("Skipping invalid stored joke", logger.Err(err))
			continue
		}
		jokes = append(jokes, joke)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jokes: %w", err)
	}

	return jokes, nil
}

func (r *JokeRepository) Get(ctx context.Context, id int) (models.Joke, error) {
	row, err := scanRow(r.db.Pool.QueryRow(ctx, selectJokes+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Joke{}, apperr.WithMetadata(apperr.CodeJokeNotFound, "joke not found", map[string]string{
				"id": strconv.Itoa(id),
			})
		}
		return models.Joke{}, err
	}
	return row.joke()
}

// Insert stores joke unless its id or its content in the same language
// already exists. It reports whether a row was written.
func (r *JokeRepository) Insert(ctx context.Context, joke models.Joke) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, insertJoke, toRow(joke).args()...)
	if err != nil {
		return false, fmt.Errorf("failed to insert joke %d: %w", joke.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertBatch stores jokes in one round trip and returns how many were new.
func (r *JokeRepository) InsertBatch(ctx context.Context, jokes []models.Joke) (int64, error) {
	if len(jokes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, joke := range jokes {
		batch.Queue(insertJoke, toRow(joke).args()...)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for _, joke := range jokes {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert joke %d: %w", joke.ID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *JokeRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM jokes").Scan(&count)
	return count, err
}

func (r *JokeRepository) CountByLang(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT lang, COUNT(*) FROM jokes GROUP BY lang")
	if err != nil {
		return nil, fmt.Errorf("failed to count jokes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		counts[lang] = n
	}
	return counts, rows.Err()
}

func (r *JokeRepository) FingerprintExists(ctx context.Context, lang, fp string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM jokes WHERE lang = $1 AND fingerprint = $2)", lang, fp,
	).Scan(&exists)
	return exists, err
}
