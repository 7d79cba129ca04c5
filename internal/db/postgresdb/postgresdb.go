// Package postgresdb implements db.Backend on PostgreSQL via pgx, kept from
// the teacher's own `db/db.go` pool-wrapping idiom (New/Close/Pool, error
// wrapping with fmt.Errorf + %w) and generalized from the teacher's single
// accounts table to the full §6.2 schema.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/moulars/moulars/internal/db"
	"github.com/moulars/moulars/internal/db/migrations"
	"github.com/moulars/moulars/internal/model"
)

// Backend wraps a pgx connection pool.
type Backend struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and applies pending migrations.
func New(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := migrate(ctx, dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Backend{pool: pool}, nil
}

func migrate(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.UpContext(ctx, sqlDB, "postgres")
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func notFoundOr(err error, wrap string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return db.ErrNotFound
	}
	return fmt.Errorf("%s: %w", wrap, err)
}

func (b *Backend) AccountLookup(ctx context.Context, name string) (*model.Account, error) {
	var acc model.Account
	var id, hash []byte
	err := b.pool.QueryRow(ctx,
		`SELECT id, name, password_hash, flags, billing, create_time
		 FROM accounts WHERE name_lower = $1`, strings.ToLower(name),
	).Scan(&id, &acc.Name, &hash, &acc.Flags, &acc.Billing, &acc.CreateTime)
	if err != nil {
		return nil, notFoundOr(err, "account lookup")
	}
	copy(acc.ID[:], id)
	acc.PasswordHash = hash
	return &acc, nil
}

func (b *Backend) AccountCreate(ctx context.Context, acc *model.Account) error {
	ct := acc.CreateTime
	if ct.IsZero() {
		ct = time.Now()
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, name_lower, password_hash, flags, billing, create_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acc.ID[:], acc.Name, strings.ToLower(acc.Name), acc.PasswordHash, acc.Flags, acc.Billing, ct,
	)
	if err != nil {
		return fmt.Errorf("creating account %q: %w", acc.Name, err)
	}
	return nil
}

func (b *Backend) PlayerNodesFor(ctx context.Context, accountID [16]byte) ([]uint32, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT idx FROM nodes WHERE node_type = $1 AND creator_uuid = $2`,
		model.NodeTypePlayer, accountID[:])
	if err != nil {
		return nil, fmt.Errorf("querying player nodes: %w", err)
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, uint32(idx))
	}
	return out, rows.Err()
}

func (b *Backend) NodeFetch(ctx context.Context, idx uint32) (*model.Node, error) {
	row := b.pool.QueryRow(ctx, nodeSelectSQL+` WHERE idx = $1`, int64(idx))
	return scanNode(row)
}

const nodeSelectSQL = `SELECT idx, node_type, create_time, modify_time, creator_uuid, creator_idx,
	create_age_name, create_age_uuid, fields,
	int32_0, int32_1, int32_2, int32_3,
	uint32_0, uint32_1, uint32_2, uint32_3,
	uuid_0, uuid_1, uuid_2, uuid_3,
	string_0, string_1, string_2, string_3, string_4, string_5,
	istring_0, istring_1, text_0, text_1, blob_0, blob_1
	FROM nodes`

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	var idx, creatorIdx int64
	var creatorUUID, createAgeUUID []byte
	var uuid0, uuid1, uuid2, uuid3 []byte
	var u0, u1, u2, u3 int64
	err := row.Scan(
		&idx, &n.Type, &n.CreateTime, &n.ModifyTime, &creatorUUID, &creatorIdx,
		&n.CreateAgeName, &createAgeUUID, &n.Fields,
		&n.Int32[0], &n.Int32[1], &n.Int32[2], &n.Int32[3],
		&u0, &u1, &u2, &u3,
		&uuid0, &uuid1, &uuid2, &uuid3,
		&n.String[0], &n.String[1], &n.String[2], &n.String[3], &n.String[4], &n.String[5],
		&n.IString[0], &n.IString[1], &n.Text[0], &n.Text[1], &n.Blob[0], &n.Blob[1],
	)
	if err != nil {
		return nil, notFoundOr(err, "scanning node")
	}
	n.Idx = uint32(idx)
	n.CreatorIdx = uint32(creatorIdx)
	copy(n.CreatorUUID[:], creatorUUID)
	copy(n.CreateAgeUUID[:], createAgeUUID)
	n.UInt32 = [4]uint32{uint32(u0), uint32(u1), uint32(u2), uint32(u3)}
	copy(n.UUID[0][:], uuid0)
	copy(n.UUID[1][:], uuid1)
	copy(n.UUID[2][:], uuid2)
	copy(n.UUID[3][:], uuid3)
	return &n, nil
}

func (b *Backend) NodeCreate(ctx context.Context, template *model.Node) (uint32, error) {
	var idx int64
	err := b.pool.QueryRow(ctx, `SELECT nextval('nodes_idx_seq')`).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("allocating node idx: %w", err)
	}
	now := time.Now()
	_, err = b.pool.Exec(ctx, `INSERT INTO nodes (
		idx, node_type, create_time, modify_time, creator_uuid, creator_idx,
		create_age_name, create_age_uuid, fields,
		int32_0, int32_1, int32_2, int32_3,
		uint32_0, uint32_1, uint32_2, uint32_3,
		uuid_0, uuid_1, uuid_2, uuid_3,
		string_0, string_1, string_2, string_3, string_4, string_5,
		istring_0, istring_1, text_0, text_1, blob_0, blob_1
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
		$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)`,
		idx, template.Type, now, now, template.CreatorUUID[:], template.CreatorIdx,
		template.CreateAgeName, template.CreateAgeUUID[:], template.Fields,
		template.Int32[0], template.Int32[1], template.Int32[2], template.Int32[3],
		template.UInt32[0], template.UInt32[1], template.UInt32[2], template.UInt32[3],
		template.UUID[0][:], template.UUID[1][:], template.UUID[2][:], template.UUID[3][:],
		template.String[0], template.String[1], template.String[2], template.String[3], template.String[4], template.String[5],
		template.IString[0], template.IString[1], template.Text[0], template.Text[1], template.Blob[0], template.Blob[1],
	)
	if err != nil {
		return 0, fmt.Errorf("inserting node: %w", err)
	}
	return uint32(idx), nil
}

func (b *Backend) NodeSave(ctx context.Context, idx uint32, changes *model.Node) error {
	if changes.Fields == 0 {
		return nil
	}
	existing, err := b.NodeFetch(ctx, idx)
	if err != nil {
		return err
	}
	applyFields(existing, changes)
	_, err = b.pool.Exec(ctx, `UPDATE nodes SET modify_time = $2, fields = $3,
		int32_0=$4, int32_1=$5, int32_2=$6, int32_3=$7,
		uint32_0=$8, uint32_1=$9, uint32_2=$10, uint32_3=$11,
		uuid_0=$12, uuid_1=$13, uuid_2=$14, uuid_3=$15,
		string_0=$16, string_1=$17, string_2=$18, string_3=$19, string_4=$20, string_5=$21,
		istring_0=$22, istring_1=$23, text_0=$24, text_1=$25, blob_0=$26, blob_1=$27
		WHERE idx = $1`,
		int64(idx), time.Now(), existing.Fields,
		existing.Int32[0], existing.Int32[1], existing.Int32[2], existing.Int32[3],
		existing.UInt32[0], existing.UInt32[1], existing.UInt32[2], existing.UInt32[3],
		existing.UUID[0][:], existing.UUID[1][:], existing.UUID[2][:], existing.UUID[3][:],
		existing.String[0], existing.String[1], existing.String[2], existing.String[3], existing.String[4], existing.String[5],
		existing.IString[0], existing.IString[1], existing.Text[0], existing.Text[1], existing.Blob[0], existing.Blob[1],
	)
	if err != nil {
		return fmt.Errorf("saving node %d: %w", idx, err)
	}
	return nil
}

// applyFields mirrors memorydb's merge-only-present-bits rule (§3.2
// Invariant ii): a partial SaveNode never clears fields it didn't touch.
func applyFields(dst, src *model.Node) {
	for i := 0; i < 4; i++ {
		if src.Fields&(model.Field(1)<<uint(i)) != 0 {
			dst.Int32[i] = src.Int32[i]
		}
	}
	for i := 0; i < 4; i++ {
		if src.Fields&(model.FieldUInt32_0<<uint(i)) != 0 {
			dst.UInt32[i] = src.UInt32[i]
		}
	}
	for i := 0; i < 4; i++ {
		if src.Fields&(model.FieldUUID_0<<uint(i)) != 0 {
			dst.UUID[i] = src.UUID[i]
		}
	}
	for i := 0; i < 6; i++ {
		if src.Fields&(model.FieldString_0<<uint(i)) != 0 {
			dst.String[i] = src.String[i]
		}
	}
	for i := 0; i < 2; i++ {
		if src.Fields&(model.FieldIString_0<<uint(i)) != 0 {
			dst.IString[i] = src.IString[i]
		}
	}
	for i := 0; i < 2; i++ {
		if src.Fields&(model.FieldText_0<<uint(i)) != 0 {
			dst.Text[i] = src.Text[i]
		}
	}
	for i := 0; i < 2; i++ {
		if src.Fields&(model.FieldBlob_0<<uint(i)) != 0 {
			dst.Blob[i] = src.Blob[i]
		}
	}
	dst.Fields |= src.Fields
}

func (b *Backend) NodeFind(ctx context.Context, template *model.Node) ([]uint32, error) {
	rows, err := b.pool.Query(ctx, nodeSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("scanning nodes for find: %w", err)
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		if n.Matches(template) {
			out = append(out, n.Idx)
		}
	}
	return out, rows.Err()
}

func (b *Backend) RefAdd(ctx context.Context, ref model.NodeRef) error {
	var owner any
	if ref.HasOwner {
		owner = int64(ref.Owner)
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO node_refs (parent_idx, child_idx, owner_idx, has_owner) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (parent_idx, child_idx) DO NOTHING`,
		int64(ref.Parent), int64(ref.Child), owner, ref.HasOwner)
	if err != nil {
		return fmt.Errorf("adding ref %d->%d: %w", ref.Parent, ref.Child, err)
	}
	return nil
}

func (b *Backend) RefRemove(ctx context.Context, parent, child uint32) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM node_refs WHERE parent_idx = $1 AND child_idx = $2`,
		int64(parent), int64(child))
	if err != nil {
		return fmt.Errorf("removing ref %d->%d: %w", parent, child, err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (b *Backend) RefsOf(ctx context.Context, idx uint32) ([]model.NodeRef, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT parent_idx, child_idx, owner_idx, has_owner FROM node_refs WHERE parent_idx = $1`,
		int64(idx))
	if err != nil {
		return nil, fmt.Errorf("querying refs of %d: %w", idx, err)
	}
	defer rows.Close()
	var out []model.NodeRef
	for rows.Next() {
		var parent, child int64
		var owner *int64
		var ref model.NodeRef
		if err := rows.Scan(&parent, &child, &owner, &ref.HasOwner); err != nil {
			return nil, err
		}
		ref.Parent, ref.Child = uint32(parent), uint32(child)
		if owner != nil {
			ref.Owner = uint32(*owner)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (b *Backend) SDLGlobalGet(ctx context.Context, descriptor string) (*model.GlobalState, error) {
	var s model.GlobalState
	s.Descriptor = descriptor
	err := b.pool.QueryRow(ctx, `SELECT blob FROM global_states WHERE descriptor = $1`, descriptor).Scan(&s.Blob)
	if err != nil {
		return nil, notFoundOr(err, "sdl global get")
	}
	return &s, nil
}

func (b *Backend) SDLGlobalPut(ctx context.Context, state model.GlobalState) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO global_states (descriptor, blob) VALUES ($1, $2)
		 ON CONFLICT (descriptor) DO UPDATE SET blob = EXCLUDED.blob`,
		state.Descriptor, state.Blob)
	if err != nil {
		return fmt.Errorf("saving global sdl %q: %w", state.Descriptor, err)
	}
	return nil
}

func (b *Backend) SDLAgeGet(ctx context.Context, serverIdx uint32, descriptor, objectKey string) (*model.AgeState, error) {
	s := model.AgeState{ServerIdx: serverIdx, Descriptor: descriptor, ObjectKey: objectKey}
	var version int64
	err := b.pool.QueryRow(ctx,
		`SELECT version, blob FROM age_states WHERE server_idx = $1 AND descriptor = $2 AND object_key = $3`,
		int64(serverIdx), descriptor, objectKey).Scan(&version, &s.Blob)
	if err != nil {
		return nil, notFoundOr(err, "sdl age get")
	}
	s.Version = uint32(version)
	return &s, nil
}

func (b *Backend) SDLAgePut(ctx context.Context, state model.AgeState) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO age_states (server_idx, descriptor, object_key, version, blob)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (server_idx, descriptor, object_key) DO UPDATE
		   SET version = EXCLUDED.version, blob = EXCLUDED.blob
		   WHERE age_states.version <= EXCLUDED.version`,
		int64(state.ServerIdx), state.Descriptor, state.ObjectKey, int64(state.Version), state.Blob)
	if err != nil {
		return fmt.Errorf("saving age sdl: %w", err)
	}
	return nil
}

func (b *Backend) SDLAgeList(ctx context.Context, serverIdx uint32) ([]model.AgeState, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT descriptor, object_key, version, blob FROM age_states WHERE server_idx = $1`,
		int64(serverIdx))
	if err != nil {
		return nil, fmt.Errorf("listing age sdl: %w", err)
	}
	defer rows.Close()

	var out []model.AgeState
	for rows.Next() {
		s := model.AgeState{ServerIdx: serverIdx}
		var version int64
		if err := rows.Scan(&s.Descriptor, &s.ObjectKey, &version, &s.Blob); err != nil {
			return nil, fmt.Errorf("scanning age sdl: %w", err)
		}
		s.Version = uint32(version)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *Backend) ServerUpsert(ctx context.Context, srv model.Server) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO servers (instance_uuid, age_filename, display_name, parent_idx, root_sdl_idx, temporary)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (instance_uuid) DO UPDATE SET
		   age_filename = EXCLUDED.age_filename, display_name = EXCLUDED.display_name,
		   parent_idx = EXCLUDED.parent_idx, root_sdl_idx = EXCLUDED.root_sdl_idx,
		   temporary = EXCLUDED.temporary`,
		srv.InstanceUUID[:], srv.AgeFilename, srv.DisplayName, int64(srv.ParentIdx), int64(srv.RootSDLIdx), srv.Temporary)
	if err != nil {
		return fmt.Errorf("upserting server %q: %w", srv.AgeFilename, err)
	}
	return nil
}

func (b *Backend) ServerDelete(ctx context.Context, instanceUUID [16]byte) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM servers WHERE instance_uuid = $1`, instanceUUID[:])
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (b *Backend) ServerList(ctx context.Context) ([]model.Server, error) {
	rows, err := b.pool.Query(ctx, `SELECT instance_uuid, age_filename, display_name, parent_idx, root_sdl_idx, temporary FROM servers`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()
	var out []model.Server
	for rows.Next() {
		var srv model.Server
		var uuidBytes []byte
		var parentIdx, rootIdx int64
		if err := rows.Scan(&uuidBytes, &srv.AgeFilename, &srv.DisplayName, &parentIdx, &rootIdx, &srv.Temporary); err != nil {
			return nil, err
		}
		copy(srv.InstanceUUID[:], uuidBytes)
		srv.ParentIdx, srv.RootSDLIdx = uint32(parentIdx), uint32(rootIdx)
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (b *Backend) ScoreAdd(ctx context.Context, ownerIdx uint32, typ model.ScoreType, name string, delta int32) (*model.Score, error) {
	var s model.Score
	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO scores (owner_idx, type, name, points) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (owner_idx, type) DO UPDATE SET points = scores.points + EXCLUDED.points
		 RETURNING id, points, create_time`,
		int64(ownerIdx), typ, name, delta).Scan(&id, &s.Points, &s.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("adding score: %w", err)
	}
	s.ID, s.OwnerIdx, s.Type, s.Name = uint32(id), ownerIdx, typ, name
	return &s, nil
}

func (b *Backend) ScoreGet(ctx context.Context, ownerIdx uint32, typ model.ScoreType) (*model.Score, error) {
	var s model.Score
	var id int64
	err := b.pool.QueryRow(ctx,
		`SELECT id, name, points, create_time FROM scores WHERE owner_idx = $1 AND type = $2`,
		int64(ownerIdx), typ).Scan(&id, &s.Name, &s.Points, &s.CreateTime)
	if err != nil {
		return nil, notFoundOr(err, "score get")
	}
	s.ID, s.OwnerIdx, s.Type = uint32(id), ownerIdx, typ
	return &s, nil
}

func (b *Backend) ScoreSet(ctx context.Context, ownerIdx uint32, typ model.ScoreType, name string, points int32) (*model.Score, error) {
	var s model.Score
	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO scores (owner_idx, type, name, points) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (owner_idx, type) DO UPDATE SET name = EXCLUDED.name, points = EXCLUDED.points
		 RETURNING id, create_time`,
		int64(ownerIdx), typ, name, points).Scan(&id, &s.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("setting score: %w", err)
	}
	s.ID, s.OwnerIdx, s.Type, s.Name, s.Points = uint32(id), ownerIdx, typ, name, points
	return &s, nil
}
