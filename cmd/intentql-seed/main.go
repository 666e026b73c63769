// intentql-seed loads a starter template corpus: it embeds each intent
// phrase through the configured embedding endpoint and inserts the pair into
// the template store. Useful for local SQLite setups and demo environments.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/intentql/intentql/internal/config"
	"github.com/intentql/intentql/internal/corpus"
	"github.com/intentql/intentql/internal/corpus/sqlstore"
	"github.com/intentql/intentql/internal/embedding"
)

type seedTemplate struct {
	Intent string
	SQL    string
}

var starterTemplates = []seedTemplate{
	{
		Intent: "total sales amount by region",
		SQL:    "SELECT region, SUM(amount) AS total_amount FROM sales GROUP BY region ORDER BY total_amount DESC",
	},
	{
		Intent: "sales for a region",
		SQL:    "SELECT order_id, amount, sold_at FROM sales WHERE region = {region} ORDER BY sold_at DESC",
	},
	{
		Intent: "orders above an amount",
		SQL:    "SELECT order_id, region, amount FROM sales WHERE amount > {min_amount} ORDER BY amount DESC",
	},
	{
		Intent: "top customers by revenue",
		SQL:    "SELECT customer_id, SUM(amount) AS revenue FROM sales GROUP BY customer_id ORDER BY revenue DESC LIMIT {limit}",
	},
	{
		Intent: "monthly sales totals for a year",
		SQL:    "SELECT strftime('%m', sold_at) AS month, SUM(amount) AS total FROM sales WHERE strftime('%Y', sold_at) = {year} GROUP BY month ORDER BY month",
	},
	{
		Intent: "count of orders per product category",
		SQL:    "SELECT category, COUNT(*) AS orders FROM sales GROUP BY category ORDER BY orders DESC",
	},
}

// sqliteSchema mirrors the Postgres migrations with SQLite-native types so a
// file-backed corpus works without a migration run.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nl2sql_template (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	intent_text TEXT NOT NULL,
	sql_template TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS nl2sql_fallback (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv("intentql-seed")
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sqlstore.Open(ctx, sqlstore.DBConfig{DSN: cfg.Store.DSN})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if sqlstore.DriverForDSN(cfg.Store.DSN) == "sqlite3" {
		if err := bootstrapSQLite(ctx, db); err != nil {
			return err
		}
	}

	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}

	intents := make([]string, len(starterTemplates))
	for i, tpl := range starterTemplates {
		intents[i] = tpl.Intent
	}
	vectors, err := provider.EmbedBatch(ctx, intents)
	if err != nil {
		return fmt.Errorf("embed starter intents: %w", err)
	}

	repo := sqlstore.NewRepository(db)
	for i, tpl := range starterTemplates {
		id, err := repo.InsertTemplate(ctx, tpl.Intent, tpl.SQL, corpus.EncodeEmbedding(vectors[i]))
		if err != nil {
			return fmt.Errorf("insert template %q: %w", tpl.Intent, err)
		}
		fmt.Printf("seeded template %d: %s\n", id, tpl.Intent)
	}
	return nil
}

func bootstrapSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	return nil
}
