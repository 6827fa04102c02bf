package permission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabcore/core/internal/storage"
)

// Schema is the DDL for the permission database (spec §4.5, §3.1). Every
// statement is idempotent (CREATE TABLE IF NOT EXISTS), per storage's
// idempotent-migration contract.
const Schema = `
CREATE TABLE IF NOT EXISTS permission_profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	team_id TEXT,
	applies_to TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	grants_json TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_assignments (
	profile_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (profile_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_profile_assignments_user ON profile_assignments(user_id);

CREATE TABLE IF NOT EXISTS permission_sets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	team_id TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	grants_json TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS set_assignments (
	set_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	expires_at TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (set_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_set_assignments_user ON set_assignments(user_id);

CREATE TABLE IF NOT EXISTS god_rights_auth (
	user_id TEXT PRIMARY KEY,
	auth_key_hash TEXT NOT NULL,
	delegated_by TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	revoked_at TEXT,
	revoked_by TEXT,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS invite_codes (
	code TEXT PRIMARY KEY,
	team_id TEXT NOT NULL,
	expires_at TEXT,
	used INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invite_codes_team_active ON invite_codes(team_id, active);

CREATE TABLE IF NOT EXISTS invite_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL,
	ip TEXT NOT NULL,
	succeeded INTEGER NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invite_attempts_code_ip ON invite_attempts(code, ip);

CREATE TABLE IF NOT EXISTS team_members (
	team_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	job_role TEXT,
	joined_at TEXT NOT NULL,
	last_seen TEXT,
	PRIMARY KEY (team_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
`

type store struct {
	db *storage.DB
}

const timeLayout = time.RFC3339Nano

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtrFromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}

func timePtrFromNullable(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalGrants(grants []Grant) (string, error) {
	b, err := json.Marshal(grants)
	if err != nil {
		return "", fmt.Errorf("marshal grants: %w", err)
	}
	return string(b), nil
}

func unmarshalGrants(s string) ([]Grant, error) {
	var grants []Grant
	if s == "" {
		return grants, nil
	}
	if err := json.Unmarshal([]byte(s), &grants); err != nil {
		return nil, fmt.Errorf("unmarshal grants: %w", err)
	}
	return grants, nil
}

// --- profiles ---

func (s *store) createProfile(ctx context.Context, p Profile) error {
	grantsJSON, err := marshalGrants(p.Grants)
	if err != nil {
		return err
	}
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO permission_profiles (id, name, description, team_id, applies_to, is_active, grants_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, nullableString(p.TeamID), nullableString(p.AppliesTo),
			boolToInt(p.IsActive), grantsJSON, p.CreatedAt.Format(timeLayout))
		return err
	})
}

func (s *store) getProfile(ctx context.Context, id string) (Profile, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, team_id, applies_to, is_active, grants_json, created_at
		FROM permission_profiles WHERE id = ?`, id)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (Profile, bool, error) {
	var p Profile
	var teamID, appliesTo sql.NullString
	var isActive int
	var grantsJSON, createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &teamID, &appliesTo, &isActive, &grantsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	p.TeamID = stringPtrFromNullable(teamID)
	p.AppliesTo = stringPtrFromNullable(appliesTo)
	p.IsActive = isActive != 0
	p.Grants, err = unmarshalGrants(grantsJSON)
	if err != nil {
		return Profile{}, false, err
	}
	p.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Profile{}, false, err
	}
	return p, true, nil
}

// assignProfile is idempotent: INSERT OR IGNORE leaves an existing
// (profile_id, user_id) row untouched (spec §4.5: "re-assigned does not
// duplicate").
func (s *store) assignProfile(ctx context.Context, profileID, userID string, at time.Time) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO profile_assignments (profile_id, user_id, created_at) VALUES (?, ?, ?)`,
			profileID, userID, at.Format(timeLayout))
		return err
	})
}

func (s *store) profilesForUser(ctx context.Context, userID string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.team_id, p.applies_to, p.is_active, p.grants_json, p.created_at
		FROM permission_profiles p
		JOIN profile_assignments a ON a.profile_id = p.id
		WHERE a.user_id = ? AND p.is_active = 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var teamID, appliesTo sql.NullString
		var isActive int
		var grantsJSON, createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &teamID, &appliesTo, &isActive, &grantsJSON, &createdAt); err != nil {
			return nil, err
		}
		p.TeamID = stringPtrFromNullable(teamID)
		p.AppliesTo = stringPtrFromNullable(appliesTo)
		p.IsActive = isActive != 0
		if p.Grants, err = unmarshalGrants(grantsJSON); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- permission sets ---

func (s *store) createSet(ctx context.Context, set PermissionSet) error {
	grantsJSON, err := marshalGrants(set.Grants)
	if err != nil {
		return err
	}
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO permission_sets (id, name, team_id, is_active, grants_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			set.ID, set.Name, nullableString(set.TeamID), boolToInt(set.IsActive), grantsJSON, set.CreatedAt.Format(timeLayout))
		return err
	})
}

func (s *store) assignSet(ctx context.Context, a SetAssignment) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO set_assignments (set_id, user_id, expires_at, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(set_id, user_id) DO UPDATE SET expires_at = excluded.expires_at`,
			a.SetID, a.UserID, nullableTime(a.ExpiresAt), a.CreatedAt.Format(timeLayout))
		return err
	})
}

func (s *store) unexpiredSetsForUser(ctx context.Context, userID string, now time.Time) ([]PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.team_id, s.is_active, s.grants_json, s.created_at
		FROM permission_sets s
		JOIN set_assignments a ON a.set_id = s.id
		WHERE a.user_id = ? AND s.is_active = 1 AND (a.expires_at IS NULL OR a.expires_at > ?)`,
		userID, now.Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionSet
	for rows.Next() {
		var set PermissionSet
		var teamID sql.NullString
		var isActive int
		var grantsJSON, createdAt string
		if err := rows.Scan(&set.ID, &set.Name, &teamID, &isActive, &grantsJSON, &createdAt); err != nil {
			return nil, err
		}
		set.TeamID = stringPtrFromNullable(teamID)
		set.IsActive = isActive != 0
		if set.Grants, err = unmarshalGrants(grantsJSON); err != nil {
			return nil, err
		}
		if set.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

// --- founder rights ---

func (s *store) getFounderRights(ctx context.Context, userID string) (FounderRights, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, auth_key_hash, delegated_by, is_active, created_at, revoked_at, revoked_by, notes
		FROM god_rights_auth WHERE user_id = ?`, userID)

	var fr FounderRights
	var delegatedBy, revokedAt, revokedBy sql.NullString
	var isActive int
	var createdAt string
	err := row.Scan(&fr.UserID, &fr.AuthKeyHash, &delegatedBy, &isActive, &createdAt, &revokedAt, &revokedBy, &fr.Notes)
	if err == sql.ErrNoRows {
		return FounderRights{}, false, nil
	}
	if err != nil {
		return FounderRights{}, false, err
	}
	fr.DelegatedBy = stringPtrFromNullable(delegatedBy)
	fr.IsActive = isActive != 0
	fr.RevokedBy = stringPtrFromNullable(revokedBy)
	if fr.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return FounderRights{}, false, err
	}
	if fr.RevokedAt, err = timePtrFromNullable(revokedAt); err != nil {
		return FounderRights{}, false, err
	}
	return fr, true, nil
}

// upsertFounderRights inserts a new row, or — if one already exists for
// this user (history-preserving: the row is never deleted) — overwrites
// its fields in place. Used by both grant (first time) and reactivate
// (flipping an existing revoked row).
func (s *store) upsertFounderRights(ctx context.Context, fr FounderRights) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO god_rights_auth (user_id, auth_key_hash, delegated_by, is_active, created_at, revoked_at, revoked_by, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				auth_key_hash = excluded.auth_key_hash,
				delegated_by = excluded.delegated_by,
				is_active = excluded.is_active,
				revoked_at = excluded.revoked_at,
				revoked_by = excluded.revoked_by,
				notes = excluded.notes`,
			fr.UserID, fr.AuthKeyHash, nullableString(fr.DelegatedBy), boolToInt(fr.IsActive),
			fr.CreatedAt.Format(timeLayout), nullableTime(fr.RevokedAt), nullableString(fr.RevokedBy), fr.Notes)
		return err
	})
}

func (s *store) listFounderRights(ctx context.Context, activeOnly bool) ([]FounderRights, error) {
	q := `SELECT user_id, auth_key_hash, delegated_by, is_active, created_at, revoked_at, revoked_by, notes FROM god_rights_auth`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FounderRights
	for rows.Next() {
		var fr FounderRights
		var delegatedBy, revokedAt, revokedBy sql.NullString
		var isActive int
		var createdAt string
		if err := rows.Scan(&fr.UserID, &fr.AuthKeyHash, &delegatedBy, &isActive, &createdAt, &revokedAt, &revokedBy, &fr.Notes); err != nil {
			return nil, err
		}
		fr.DelegatedBy = stringPtrFromNullable(delegatedBy)
		fr.IsActive = isActive != 0
		fr.RevokedBy = stringPtrFromNullable(revokedBy)
		if fr.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		if fr.RevokedAt, err = timePtrFromNullable(revokedAt); err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// --- invite codes ---

func (s *store) createInviteCode(ctx context.Context, ic InviteCode) error {
	return s.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE invite_codes SET active = 0 WHERE team_id = ? AND active = 1`, ic.TeamID); err != nil {
			return fmt.Errorf("invalidate prior invite codes: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invite_codes (code, team_id, expires_at, used, active, created_at)
			VALUES (?, ?, ?, 0, 1, ?)`,
			ic.Code, ic.TeamID, nullableTime(ic.ExpiresAt), ic.CreatedAt.Format(timeLayout))
		return err
	})
}

func (s *store) getInviteCode(ctx context.Context, code string) (InviteCode, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, team_id, expires_at, used, active, created_at FROM invite_codes WHERE code = ?`, code)

	var ic InviteCode
	var expiresAt sql.NullString
	var used, active int
	var createdAt string
	err := row.Scan(&ic.Code, &ic.TeamID, &expiresAt, &used, &active, &createdAt)
	if err == sql.ErrNoRows {
		return InviteCode{}, false, nil
	}
	if err != nil {
		return InviteCode{}, false, err
	}
	ic.Used = used != 0
	ic.Active = active != 0
	if ic.ExpiresAt, err = timePtrFromNullable(expiresAt); err != nil {
		return InviteCode{}, false, err
	}
	if ic.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return InviteCode{}, false, err
	}
	return ic, true, nil
}

func (s *store) markInviteUsed(ctx context.Context, code string) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE invite_codes SET used = 1 WHERE code = ?`, code)
		return err
	})
}

func (s *store) recordInviteAttempt(ctx context.Context, a InviteAttempt) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO invite_attempts (code, ip, succeeded, at) VALUES (?, ?, ?, ?)`,
			a.Code, a.IP, boolToInt(a.Succeeded), a.At.Format(timeLayout))
		return err
	})
}

// recentFailedAttempts counts failed redemption attempts for (code, ip)
// since since, the denominator the rate limiter checks against (spec
// §4.5: "rate-limited by failure count per (code, ip)").
func (s *store) recentFailedAttempts(ctx context.Context, code, ip string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invite_attempts WHERE code = ? AND ip = ? AND succeeded = 0 AND at > ?`,
		code, ip, since.Format(timeLayout)).Scan(&n)
	return n, err
}

// --- team membership ---

func (s *store) addMember(ctx context.Context, m TeamMember) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role, job_role, joined_at, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.TeamID, m.UserID, m.Role, nullableString(m.JobRole), m.JoinedAt.Format(timeLayout), nullableTime(m.LastSeen))
		return err
	})
}

func (s *store) updateMemberRole(ctx context.Context, teamID, userID, newRole string) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE team_members SET role = ? WHERE team_id = ? AND user_id = ?`,
			newRole, teamID, userID)
		return err
	})
}

func (s *store) removeMember(ctx context.Context, teamID, userID string) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID)
		return err
	})
}

func (s *store) getMember(ctx context.Context, teamID, userID string) (TeamMember, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT team_id, user_id, role, job_role, joined_at, last_seen
		FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID)

	var m TeamMember
	var jobRole, lastSeen sql.NullString
	var joinedAt string
	err := row.Scan(&m.TeamID, &m.UserID, &m.Role, &jobRole, &joinedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return TeamMember{}, false, nil
	}
	if err != nil {
		return TeamMember{}, false, err
	}
	m.JobRole = stringPtrFromNullable(jobRole)
	if m.JoinedAt, err = time.Parse(timeLayout, joinedAt); err != nil {
		return TeamMember{}, false, err
	}
	if m.LastSeen, err = timePtrFromNullable(lastSeen); err != nil {
		return TeamMember{}, false, err
	}
	return m, true, nil
}

func (s *store) membersOfTeam(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, user_id, role, job_role, joined_at, last_seen
		FROM team_members WHERE team_id = ? ORDER BY joined_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		var jobRole, lastSeen sql.NullString
		var joinedAt string
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &jobRole, &joinedAt, &lastSeen); err != nil {
			return nil, err
		}
		m.JobRole = stringPtrFromNullable(jobRole)
		if m.JoinedAt, err = time.Parse(timeLayout, joinedAt); err != nil {
			return nil, err
		}
		if m.LastSeen, err = timePtrFromNullable(lastSeen); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
