package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sprintdeck/orc/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, which
	// also makes the guard and counter transactions mutually exclusive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, repo_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.RepoPath, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.getProject(ctx, "id", id)
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return s.getProject(ctx, "name", name)
}

func (s *SQLiteStore) getProject(ctx context.Context, column, value string) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, repo_path, created_at, updated_at FROM projects WHERE `+column+` = ?`, value,
	).Scan(&p.ID, &p.Name, &p.RepoPath, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, repo_path, created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.RepoPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Named agent configs ---

func (s *SQLiteStore) CreateNamedAgent(ctx context.Context, a *models.NamedAgentConfig) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO named_agent_configs (id, name, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Provider, a.Model, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create named agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNamedAgent(ctx context.Context, id string) (*models.NamedAgentConfig, error) {
	return s.getNamedAgent(ctx, "id", id)
}

func (s *SQLiteStore) GetNamedAgentByName(ctx context.Context, name string) (*models.NamedAgentConfig, error) {
	return s.getNamedAgent(ctx, "name", name)
}

func (s *SQLiteStore) getNamedAgent(ctx context.Context, column, value string) (*models.NamedAgentConfig, error) {
	a := &models.NamedAgentConfig{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, provider, model, created_at, updated_at
		FROM named_agent_configs WHERE `+column+` = ?`, value,
	).Scan(&a.ID, &a.Name, &a.Provider, &a.Model, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("named agent %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get named agent: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListNamedAgents(ctx context.Context) ([]*models.NamedAgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, provider, model, created_at, updated_at
		FROM named_agent_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list named agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*models.NamedAgentConfig
	for rows.Next() {
		a := &models.NamedAgentConfig{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Provider, &a.Model, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan named agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) UpdateNamedAgent(ctx context.Context, a *models.NamedAgentConfig) error {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE named_agent_configs SET name=?, provider=?, model=?, updated_at=? WHERE id=?`,
		a.Name, a.Provider, a.Model, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update named agent: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("named agent %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteNamedAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM named_agent_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete named agent: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("named agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Agent role defaults ---

func (s *SQLiteStore) UpsertRoleDefault(ctx context.Context, d *models.AgentRoleDefault) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	d.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_role_defaults (id, role, scope, provider, named_agent_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (role, scope) DO UPDATE SET
			provider = excluded.provider,
			named_agent_id = excluded.named_agent_id,
			updated_at = excluded.updated_at`,
		d.ID, string(d.Role), d.Scope, d.Provider, d.NamedAgentID, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert role default: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRoleDefault(ctx context.Context, role models.AgentRole, scope string) (*models.AgentRoleDefault, error) {
	d := &models.AgentRoleDefault{}
	var roleStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, scope, provider, named_agent_id, updated_at
		FROM agent_role_defaults WHERE role = ? AND scope = ?`, string(role), scope,
	).Scan(&d.ID, &roleStr, &d.Scope, &d.Provider, &d.NamedAgentID, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role default %s/%s: %w", role, scope, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get role default: %w", err)
	}
	d.Role = models.AgentRole(roleStr)
	return d, nil
}

func (s *SQLiteStore) ListRoleDefaults(ctx context.Context) ([]*models.AgentRoleDefault, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, scope, provider, named_agent_id, updated_at
		FROM agent_role_defaults ORDER BY role, scope`)
	if err != nil {
		return nil, fmt.Errorf("list role defaults: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defaults []*models.AgentRoleDefault
	for rows.Next() {
		d := &models.AgentRoleDefault{}
		var roleStr string
		if err := rows.Scan(&d.ID, &roleStr, &d.Scope, &d.Provider, &d.NamedAgentID, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role default: %w", err)
		}
		d.Role = models.AgentRole(roleStr)
		defaults = append(defaults, d)
	}
	return defaults, rows.Err()
}

func (s *SQLiteStore) DeleteRoleDefault(ctx context.Context, role models.AgentRole, scope string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM agent_role_defaults WHERE role = ? AND scope = ?", string(role), scope)
	if err != nil {
		return fmt.Errorf("delete role default: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("role default %s/%s: %w", role, scope, ErrNotFound)
	}
	return nil
}
