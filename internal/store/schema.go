/**
 * @description
 * This file holds the DDL for the points ledger and a helper to apply it at
 * startup. Every statement is idempotent (`IF NOT EXISTS`) so the service can
 * run it on every boot.
 *
 * Two constraints here are load-bearing for correctness, not just hygiene:
 * - feedback (paper_id, reviewer_id) UNIQUE is the only duplicate-feedback
 *   gate; concurrent submissions race at this index.
 * - download_grants has a partial unique index over issued grants, so two
 *   concurrent authorizes for the same (paper, account) cannot both insert.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK (role IN ('member', 'researcher', 'admin')),
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_bonus_at TIMESTAMPTZ,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS point_transactions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id UUID NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('daily_bonus', 'upload_reward', 'feedback_reward', 'download_debit', 'admin_credit')),
		reference_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_point_transactions_account
		ON point_transactions (account_id, created_at);
	CREATE TABLE IF NOT EXISTS papers (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title TEXT NOT NULL,
		uploader_id UUID NOT NULL REFERENCES accounts(id),
		file_key TEXT NOT NULL,
		download_count BIGINT NOT NULL DEFAULT 0,
		official BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS feedback (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		paper_id UUID NOT NULL REFERENCES papers(id),
		reviewer_id UUID NOT NULL REFERENCES accounts(id),
		content TEXT NOT NULL,
		rating INT CHECK (rating BETWEEN 1 AND 5),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (paper_id, reviewer_id)
	);
	CREATE TABLE IF NOT EXISTS download_grants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		paper_id UUID NOT NULL REFERENCES papers(id),
		account_id UUID NOT NULL REFERENCES accounts(id),
		status TEXT NOT NULL CHECK (status IN ('issued', 'consumed', 'expired')),
		cost_charged BIGINT NOT NULL CHECK (cost_charged >= 0),
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		consumed_at TIMESTAMPTZ
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_download_grants_one_active
		ON download_grants (paper_id, account_id)
		WHERE status = 'issued';
	CREATE INDEX IF NOT EXISTS idx_download_grants_expiry
		ON download_grants (expires_at)
		WHERE status = 'issued';
`

// EnsureSchema applies the ledger DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaDDL)
	return err
}
