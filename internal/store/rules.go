package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/zapelm/rule"
)

const ruleColumns = `id, selector, action, apply_mode, enabled, created_at, updated_at`

// LoadRuleMap returns every stored rule keyed by hostname.
func (s *Store) LoadRuleMap(ctx context.Context) (rule.Map, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT hostname, `+ruleColumns+`
		FROM rules ORDER BY hostname, position`)
	if err != nil {
		return nil, fmt.Errorf("store: load rules: %w", err)
	}
	defer rows.Close()

	m := rule.Map{}
	for rows.Next() {
		var host string
		r, err := scanRule(rows, &host)
		if err != nil {
			return nil, fmt.Errorf("store: load rules: %w", err)
		}
		m[host] = append(m[host], r)
	}
	return m, rows.Err()
}

// SaveRuleMap replaces the whole rule map in one transaction.
func (s *Store) SaveRuleMap(ctx context.Context, m rule.Map) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save rules: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("store: save rules: %w", err)
	}
	for host, rules := range m {
		if err := insertRules(ctx, tx, host, rules); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRulesForHostname returns the rules of one hostname in insertion order.
// The slice is freshly allocated; an unknown hostname yields an empty one.
func (s *Store) GetRulesForHostname(ctx context.Context, host string) ([]rule.Rule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT hostname, `+ruleColumns+`
		FROM rules WHERE hostname = ? ORDER BY position`, host)
	if err != nil {
		return nil, fmt.Errorf("store: get rules: %w", err)
	}
	defer rows.Close()

	out := []rule.Rule{}
	for rows.Next() {
		var h string
		r, err := scanRule(rows, &h)
		if err != nil {
			return nil, fmt.Errorf("store: get rules: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRulesForHostname replaces the rules of one hostname. An empty list
// deletes the hostname.
func (s *Store) SetRulesForHostname(ctx context.Context, host string, rules []rule.Rule) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: set rules: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE hostname = ?`, host); err != nil {
		return fmt.Errorf("store: set rules: %w", err)
	}
	if err := insertRules(ctx, tx, host, rules); err != nil {
		return err
	}
	return tx.Commit()
}

// Hostnames lists the hostnames that have rules, sorted.
func (s *Store) Hostnames(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT hostname FROM rules ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("store: hostnames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertRules(ctx context.Context, tx *sql.Tx, host string, rules []rule.Rule) error {
	for i, r := range rules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rules
				(id, hostname, position, selector, action, apply_mode, enabled, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, host, i, r.Selector, r.Action.String(), r.ApplyMode.String(),
			boolInt(r.Enabled), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("store: insert rule %s/%s: %w", host, r.ID, err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner, host *string) (rule.Rule, error) {
	var (
		r                rule.Rule
		action, mode     string
		enabled          int
		created, updated int64
	)
	if err := sc.Scan(host, &r.ID, &r.Selector, &action, &mode, &enabled, &created, &updated); err != nil {
		return r, err
	}
	a, err := rule.ParseAction(action)
	if err != nil {
		return r, err
	}
	m, err := rule.ParseApplyMode(mode)
	if err != nil {
		return r, err
	}
	r.Action = a
	r.ApplyMode = m
	r.Enabled = enabled != 0
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
