//go:build sqlite

// Package sqlite implements storage.Store on a single-file SQLite
// database using the CGO-less modernc driver. Schema changes ship as
// embedded migrations applied at open time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"segmentpam/internal/domain"
	"segmentpam/internal/storage"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Status summarizes the applied schema for the given DSN without
// creating a Store or running migrations.
func Status(dsn string) (string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()
	var latest, count int
	_ = db.QueryRow(`SELECT COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&latest)
	_ = db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count)
	var appVersion, appliedAt string
	_ = db.QueryRow(`SELECT app_version, applied_at FROM schema_info WHERE id=1`).Scan(&appVersion, &appliedAt)
	return fmt.Sprintf("schema_version=%d applied=%d app_version=%s applied_at=%s", latest, count, appVersion, appliedAt), nil
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Networks

func (s *Store) CreateNetwork(ctx context.Context, n domain.Network) error {
	if n.ID == uuid.Nil {
		return fmt.Errorf("network id required: %w", storage.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO networks(id, name, shared, routed, created_at) VALUES(?, ?, ?, ?, ?)`,
		n.ID.String(), n.Name, boolInt(n.Shared), boolInt(n.Routed), fmtTime(n.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("network %s exists: %w", n.ID, storage.ErrConflict)
	}
	return err
}

func (s *Store) GetNetwork(ctx context.Context, id uuid.UUID) (domain.Network, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, shared, routed, created_at FROM networks WHERE id=?`, id.String())
	n, err := scanNetwork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Network{}, false, nil
	}
	if err != nil {
		return domain.Network{}, false, err
	}
	return n, true, nil
}

func (s *Store) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, shared, routed, created_at FROM networks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNetworkRouted(ctx context.Context, id uuid.UUID, routed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE networks SET routed=? WHERE id=?`, boolInt(routed), id.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) DeleteNetwork(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM networks WHERE id=?`, id.String()).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	var segs, subs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM segments WHERE network_id=?`, id.String()).Scan(&segs); err != nil {
		return false, err
	}
	if segs > 0 {
		return false, fmt.Errorf("network %s has segments: %w", id, storage.ErrConflict)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM subnets WHERE network_id=?`, id.String()).Scan(&subs); err != nil {
		return false, err
	}
	if subs > 0 {
		return false, fmt.Errorf("network %s has subnets: %w", id, storage.ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM networks WHERE id=?`, id.String()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Segments

func (s *Store) CreateSegment(ctx context.Context, seg domain.Segment) error {
	if seg.ID == uuid.Nil || seg.NetworkID == uuid.Nil {
		return fmt.Errorf("segment and network ids required: %w", storage.ErrValidation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM networks WHERE id=?`, seg.NetworkID.String()).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("network %s: %w", seg.NetworkID, storage.ErrNotFound)
	}
	var dup int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM segments WHERE network_id=? AND physical_network=?`,
		seg.NetworkID.String(), seg.PhysicalNetwork).Scan(&dup); err != nil {
		return err
	}
	if dup > 0 {
		return fmt.Errorf("physical network %q in use on network %s: %w",
			seg.PhysicalNetwork, seg.NetworkID, storage.ErrConflict)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO segments(id, network_id, physical_network, network_type, segmentation_id, name, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		seg.ID.String(), seg.NetworkID.String(), seg.PhysicalNetwork, string(seg.NetworkType), seg.SegmentationID, seg.Name, fmtTime(seg.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("segment %s exists: %w", seg.ID, storage.ErrConflict)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetSegment(ctx context.Context, id uuid.UUID) (domain.Segment, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, network_id, physical_network, network_type, segmentation_id, name, created_at FROM segments WHERE id=?`, id.String())
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Segment{}, false, nil
	}
	if err != nil {
		return domain.Segment{}, false, err
	}
	return seg, true, nil
}

func (s *Store) ListSegments(ctx context.Context, networkID uuid.UUID) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, network_id, physical_network, network_type, segmentation_id, name, created_at FROM segments WHERE network_id=? ORDER BY created_at, id`, networkID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSegments(rows)
}

func (s *Store) DeleteSegment(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM segments WHERE id=?`, id.String()).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	var subs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM subnets WHERE segment_id=?`, id.String()).Scan(&subs); err != nil {
		return false, err
	}
	if subs > 0 {
		return false, fmt.Errorf("segment %s has subnets: %w", id, storage.ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM host_segments WHERE segment_id=?`, id.String()); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE id=?`, id.String()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Subnets

func (s *Store) CreateSubnet(ctx context.Context, sub domain.Subnet) error {
	if sub.ID == uuid.Nil || sub.NetworkID == uuid.Nil {
		return fmt.Errorf("subnet and network ids required: %w", storage.ErrValidation)
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM networks WHERE id=?`, sub.NetworkID.String()).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("network %s: %w", sub.NetworkID, storage.ErrNotFound)
	}
	pools, err := json.Marshal(sub.Pools)
	if err != nil {
		return err
	}
	var segID, gw sql.NullString
	if sub.SegmentID != nil {
		segID = sql.NullString{String: sub.SegmentID.String(), Valid: true}
	}
	if sub.GatewayIP != nil {
		gw = sql.NullString{String: sub.GatewayIP.String(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO subnets(id, network_id, segment_id, cidr, ip_version, gateway_ip, pools, enable_dhcp, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(), sub.NetworkID.String(), segID, sub.CIDR.String(), sub.IPVersion, gw, string(pools), boolInt(sub.EnableDHCP), fmtTime(sub.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("subnet %s exists: %w", sub.ID, storage.ErrConflict)
	}
	return err
}

func (s *Store) GetSubnet(ctx context.Context, id uuid.UUID) (domain.Subnet, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, network_id, segment_id, cidr, ip_version, gateway_ip, pools, enable_dhcp, created_at FROM subnets WHERE id=?`, id.String())
	sub, err := scanSubnet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subnet{}, false, nil
	}
	if err != nil {
		return domain.Subnet{}, false, err
	}
	return sub, true, nil
}

func (s *Store) ListSubnets(ctx context.Context, networkID uuid.UUID) ([]domain.Subnet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, network_id, segment_id, cidr, ip_version, gateway_ip, pools, enable_dhcp, created_at FROM subnets WHERE network_id=? ORDER BY created_at, id`, networkID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubnets(rows)
}

func (s *Store) ListSubnetsBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.Subnet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, network_id, segment_id, cidr, ip_version, gateway_ip, pools, enable_dhcp, created_at FROM subnets WHERE segment_id=? ORDER BY created_at, id`, segmentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubnets(rows)
}

func (s *Store) UpdateSubnetPools(ctx context.Context, id uuid.UUID, pools []domain.AllocationPool) (bool, error) {
	raw, err := json.Marshal(pools)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE subnets SET pools=? WHERE id=?`, string(raw), id.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) DeleteSubnet(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM subnets WHERE id=?`, id.String()).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	var allocs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM allocations WHERE subnet_id=?`, id.String()).Scan(&allocs); err != nil {
		return false, err
	}
	if allocs > 0 {
		return false, fmt.Errorf("subnet %s has allocations: %w", id, storage.ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subnets WHERE id=?`, id.String()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Ports

func (s *Store) CreatePort(ctx context.Context, p domain.Port) error {
	if p.ID == uuid.Nil || p.NetworkID == uuid.Nil {
		return fmt.Errorf("port and network ids required: %w", storage.ErrValidation)
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM networks WHERE id=?`, p.NetworkID.String()).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("network %s: %w", p.NetworkID, storage.ErrNotFound)
	}
	fixed, err := json.Marshal(p.FixedIPs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ports(id, network_id, name, fixed_ips, ip_allocation, state, host, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.NetworkID.String(), p.Name, string(fixed), string(p.IPAllocation), string(p.State), p.Host, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("port %s exists: %w", p.ID, storage.ErrConflict)
	}
	return err
}

func (s *Store) GetPort(ctx context.Context, id uuid.UUID) (domain.Port, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, network_id, name, fixed_ips, ip_allocation, state, host, created_at, updated_at FROM ports WHERE id=?`, id.String())
	p, err := scanPort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Port{}, false, nil
	}
	if err != nil {
		return domain.Port{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListPorts(ctx context.Context, networkID uuid.UUID) ([]domain.Port, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, network_id, name, fixed_ips, ip_allocation, state, host, created_at, updated_at FROM ports WHERE network_id=? ORDER BY created_at, id`, networkID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePort(ctx context.Context, p domain.Port) (bool, error) {
	fixed, err := json.Marshal(p.FixedIPs)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE ports SET name=?, fixed_ips=?, ip_allocation=?, state=?, host=?, updated_at=? WHERE id=?`,
		p.Name, string(fixed), string(p.IPAllocation), string(p.State), p.Host, fmtTime(p.UpdatedAt), p.ID.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) DeletePort(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ports WHERE id=?`, id.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Allocations

func (s *Store) CreateAllocation(ctx context.Context, a domain.Allocation) error {
	if a.SubnetID == uuid.Nil || !a.Address.IsValid() {
		return fmt.Errorf("subnet id and address required: %w", storage.ErrValidation)
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM subnets WHERE id=?`, a.SubnetID.String()).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("subnet %s: %w", a.SubnetID, storage.ErrNotFound)
	}
	var portID sql.NullString
	if a.PortID != nil {
		portID = sql.NullString{String: a.PortID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO allocations(subnet_id, address, port_id, created_at) VALUES(?, ?, ?, ?)`,
		a.SubnetID.String(), a.Address.String(), portID, fmtTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("address %s allocated in subnet %s: %w", a.Address, a.SubnetID, storage.ErrConflict)
	}
	return err
}

func (s *Store) DeleteAllocation(ctx context.Context, subnetID uuid.UUID, addr netip.Addr) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM allocations WHERE subnet_id=? AND address=?`, subnetID.String(), addr.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) ListAllocations(ctx context.Context, subnetID uuid.UUID) ([]domain.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subnet_id, address, port_id, created_at FROM allocations WHERE subnet_id=?`, subnetID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Allocation{}
	for rows.Next() {
		var a domain.Allocation
		var subID, addr, ts string
		var portID sql.NullString
		if err := rows.Scan(&subID, &addr, &portID, &ts); err != nil {
			return nil, err
		}
		a.SubnetID, err = uuid.Parse(subID)
		if err != nil {
			return nil, err
		}
		a.Address, err = netip.ParseAddr(addr)
		if err != nil {
			return nil, err
		}
		if portID.Valid {
			pid, err := uuid.Parse(portID.String)
			if err != nil {
				return nil, err
			}
			a.PortID = &pid
		}
		a.CreatedAt = parseTime(ts)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Address order has to be numeric, not lexical.
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Compare(out[j].Address) < 0 })
	return out, nil
}

// Host/segment mappings

func (s *Store) MapHostToSegment(ctx context.Context, host string, segmentID uuid.UUID) error {
	if host == "" || segmentID == uuid.Nil {
		return fmt.Errorf("host and segment id required: %w", storage.ErrValidation)
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM segments WHERE id=?`, segmentID.String()).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("segment %s: %w", segmentID, storage.ErrNotFound)
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO host_segments(host, segment_id) VALUES(?, ?)`, host, segmentID.String())
	return err
}

func (s *Store) UnmapHostFromSegment(ctx context.Context, host string, segmentID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM host_segments WHERE host=? AND segment_id=?`, host, segmentID.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) SegmentsForHost(ctx context.Context, host string) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.network_id, s.physical_network, s.network_type, s.segmentation_id, s.name, s.created_at
		FROM segments s JOIN host_segments hs ON hs.segment_id = s.id
		WHERE hs.host=? ORDER BY s.created_at, s.id`, host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSegments(rows)
}

func (s *Store) HostsForSegment(ctx context.Context, segmentID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host FROM host_segments WHERE segment_id=? ORDER BY host`, segmentID.String())
	if err != nil {
		return nil, err
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

// scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNetwork(row rowScanner) (domain.Network, error) {
	var n domain.Network
	var id, ts string
	var shared, routed int
	if err := row.Scan(&id, &n.Name, &shared, &routed, &ts); err != nil {
		return domain.Network{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Network{}, err
	}
	n.ID = parsed
	n.Shared = shared != 0
	n.Routed = routed != 0
	n.CreatedAt = parseTime(ts)
	return n, nil
}

func scanSegment(row rowScanner) (domain.Segment, error) {
	var seg domain.Segment
	var id, netID, netType, ts string
	if err := row.Scan(&id, &netID, &seg.PhysicalNetwork, &netType, &seg.SegmentationID, &seg.Name, &ts); err != nil {
		return domain.Segment{}, err
	}
	var err error
	if seg.ID, err = uuid.Parse(id); err != nil {
		return domain.Segment{}, err
	}
	if seg.NetworkID, err = uuid.Parse(netID); err != nil {
		return domain.Segment{}, err
	}
	seg.NetworkType = domain.NetworkType(netType)
	seg.CreatedAt = parseTime(ts)
	return seg, nil
}

func collectSegments(rows *sql.Rows) ([]domain.Segment, error) {
	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func scanSubnet(row rowScanner) (domain.Subnet, error) {
	var sub domain.Subnet
	var id, netID, cidrStr, pools, ts string
	var segID, gw sql.NullString
	var dhcp int
	if err := row.Scan(&id, &netID, &segID, &cidrStr, &sub.IPVersion, &gw, &pools, &dhcp, &ts); err != nil {
		return domain.Subnet{}, err
	}
	var err error
	if sub.ID, err = uuid.Parse(id); err != nil {
		return domain.Subnet{}, err
	}
	if sub.NetworkID, err = uuid.Parse(netID); err != nil {
		return domain.Subnet{}, err
	}
	if segID.Valid {
		sid, err := uuid.Parse(segID.String)
		if err != nil {
			return domain.Subnet{}, err
		}
		sub.SegmentID = &sid
	}
	if sub.CIDR, err = netip.ParsePrefix(cidrStr); err != nil {
		return domain.Subnet{}, err
	}
	if gw.Valid {
		addr, err := netip.ParseAddr(gw.String)
		if err != nil {
			return domain.Subnet{}, err
		}
		sub.GatewayIP = &addr
	}
	if err := json.Unmarshal([]byte(pools), &sub.Pools); err != nil {
		return domain.Subnet{}, err
	}
	sub.EnableDHCP = dhcp != 0
	sub.CreatedAt = parseTime(ts)
	return sub, nil
}

func collectSubnets(rows *sql.Rows) ([]domain.Subnet, error) {
	var out []domain.Subnet
	for rows.Next() {
		sub, err := scanSubnet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanPort(row rowScanner) (domain.Port, error) {
	var p domain.Port
	var id, netID, fixed, alloc, state, created, updated string
	if err := row.Scan(&id, &netID, &p.Name, &fixed, &alloc, &state, &p.Host, &created, &updated); err != nil {
		return domain.Port{}, err
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return domain.Port{}, err
	}
	if p.NetworkID, err = uuid.Parse(netID); err != nil {
		return domain.Port{}, err
	}
	if err := json.Unmarshal([]byte(fixed), &p.FixedIPs); err != nil {
		return domain.Port{}, err
	}
	p.IPAllocation = domain.IPAllocation(alloc)
	p.State = domain.BindingState(state)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
