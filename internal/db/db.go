package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens the database and applies the schema.
func Connect(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            bio TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS user_roles (
            user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            role TEXT NOT NULL,
            PRIMARY KEY(user_id, role)
        );`,
	`CREATE TABLE IF NOT EXISTS rooms (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL,
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            code TEXT UNIQUE,
            created_by UUID REFERENCES profiles(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (is_private = (code IS NOT NULL))
        );`,
	`INSERT INTO rooms (id, name, is_private) VALUES ('00000000-0000-0000-0000-000000000000', 'Global', FALSE)
        ON CONFLICT (id) DO NOTHING;`,
	`CREATE TABLE IF NOT EXISTS room_members (
            room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(room_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            content TEXT NOT NULL CHECK (char_length(content) BETWEEN 1 AND 500),
            image_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at DESC, id DESC);`,
	`CREATE TABLE IF NOT EXISTS muted_users (
            user_id UUID PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
            muted_by UUID REFERENCES profiles(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE OR REPLACE FUNCTION notify_message_event() RETURNS trigger AS $$
        BEGIN
            IF TG_OP = 'DELETE' THEN
                PERFORM pg_notify('` + MessageEventsChannel + `', json_build_object('op', TG_OP, 'row', row_to_json(OLD))::text);
                RETURN OLD;
            END IF;
            PERFORM pg_notify('` + MessageEventsChannel + `', json_build_object('op', TG_OP, 'row', row_to_json(NEW))::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR DELETE ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_message_event();`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	log.Printf("database migrations applied count=%d", len(migrations))
	return nil
}
