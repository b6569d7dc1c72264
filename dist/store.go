// Package dist implements the distributed data-parallel plumbing: a TCP
// key-value rendezvous store hosted by rank 0, store-backed collectives,
// config synchronization and the per-rank data sampler.
package dist

import (
	"encoding/gob"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds the rendezvous: ranks that cannot assemble a
// full world within it fail instead of hanging forever.
const DefaultTimeout = 5 * time.Minute

type op uint8

const (
	opJoin op = iota + 1
	opSet
	opGet
	opAdd
	opDelPrefix
)

type request struct {
	Op    op
	Rank  int
	Key   string
	Value []byte
	Delta int64
}

type response struct {
	Value   []byte
	Counter int64
	Err     string
}

// Store is one rank's handle on the shared key-value store. Keys are
// write-once by convention; Get blocks until the key exists. Rank 0
// additionally hosts the store server for the whole world.
type Store struct {
	mu   sync.Mutex // one in-flight request per connection
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	rank  int
	world int

	ln  net.Listener // non-nil on rank 0
	srv *server
}

// NewStore performs the rendezvous: rank 0 listens on addr, every rank
// (rank 0 included) connects and joins, and the call returns only once
// all world ranks have joined or the timeout elapses.
func NewStore(addr string, rank, world int, timeout time.Duration) (*Store, error) {
	if world < 1 {
		return nil, fmt.Errorf("dist: world size %d must be >= 1", world)
	}
	if rank < 0 || rank >= world {
		return nil, fmt.Errorf("dist: rank %d out of range [0, %d)", rank, world)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Store{rank: rank, world: world}
	if rank == 0 {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dist: rank 0 listen on %s: %w", addr, err)
		}
		s.ln = ln
		s.srv = newServer(world)
		go s.srv.serve(ln)
	}

	conn, err := dialRetry(addr, timeout)
	if err != nil {
		if s.ln != nil {
			s.ln.Close()
		}
		return nil, err
	}
	s.conn = conn
	s.enc = gob.NewEncoder(conn)
	s.dec = gob.NewDecoder(conn)

	// The join reply arrives once the last rank has connected; a full
	// world that never assembles is a fatal rendezvous failure.
	conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := s.roundTrip(request{Op: opJoin, Rank: rank}); err != nil {
		s.Close()
		return nil, fmt.Errorf("dist: rank %d rendezvous: %w", rank, err)
	}
	conn.SetReadDeadline(time.Time{})
	return s, nil
}

// dialRetry keeps connecting until the host's listener is up or the
// deadline passes; non-zero ranks usually start before rank 0.
func dialRetry(addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dist: dial %s: %w", addr, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Rank returns this handle's rank.
func (s *Store) Rank() int { return s.rank }

// World returns the world size agreed at rendezvous.
func (s *Store) World() int { return s.world }

// Set stores value under key and wakes blocked readers.
func (s *Store) Set(key string, value []byte) error {
	_, err := s.roundTrip(request{Op: opSet, Key: key, Value: value})
	return err
}

// Get blocks until key exists and returns its value.
func (s *Store) Get(key string) ([]byte, error) {
	resp, err := s.roundTrip(request{Op: opGet, Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Add atomically increments a named counter and returns the new value.
func (s *Store) Add(key string, delta int64) (int64, error) {
	resp, err := s.roundTrip(request{Op: opAdd, Key: key, Delta: delta})
	if err != nil {
		return 0, err
	}
	return resp.Counter, nil
}

// DelPrefix removes every key with the prefix. Collectives use it to
// reclaim finished rounds.
func (s *Store) DelPrefix(prefix string) error {
	_, err := s.roundTrip(request{Op: opDelPrefix, Key: prefix})
	return err
}

func (s *Store) roundTrip(req request) (response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(req); err != nil {
		return response{}, fmt.Errorf("dist: send: %w", err)
	}
	var resp response
	if err := s.dec.Decode(&resp); err != nil {
		return response{}, fmt.Errorf("dist: recv: %w", err)
	}
	if resp.Err != "" {
		return response{}, fmt.Errorf("dist: %s", resp.Err)
	}
	return resp, nil
}

// Close tears down this rank's connection; rank 0 also stops serving.
func (s *Store) Close() error {
	err := s.conn.Close()
	if s.ln != nil {
		s.ln.Close()
	}
	return err
}

// server is the rank-0 side: a flat map guarded by one mutex, a
// condition variable for blocking gets and the join barrier.
type server struct {
	mu       sync.Mutex
	cond     *sync.Cond
	world    int
	joined   map[int]bool
	data     map[string][]byte
	counters map[string]int64
}

func newServer(world int) *server {
	srv := &server{
		world:    world,
		joined:   make(map[int]bool),
		data:     make(map[string][]byte),
		counters: make(map[string]int64),
	}
	srv.cond = sync.NewCond(&srv.mu)
	return srv
}

func (srv *server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go srv.handle(conn)
	}
}

func (srv *server) handle(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(srv.apply(req)); err != nil {
			return
		}
	}
}

func (srv *server) apply(req request) response {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	switch req.Op {
	case opJoin:
		if req.Rank < 0 || req.Rank >= srv.world {
			return response{Err: fmt.Sprintf("join: rank %d out of range [0, %d)", req.Rank, srv.world)}
		}
		if srv.joined[req.Rank] {
			return response{Err: fmt.Sprintf("join: rank %d joined twice", req.Rank)}
		}
		srv.joined[req.Rank] = true
		srv.cond.Broadcast()
		for len(srv.joined) < srv.world {
			srv.cond.Wait()
		}
		return response{}

	case opSet:
		srv.data[req.Key] = req.Value
		srv.cond.Broadcast()
		return response{}

	case opGet:
		for {
			if v, ok := srv.data[req.Key]; ok {
				return response{Value: v}
			}
			srv.cond.Wait()
		}

	case opAdd:
		srv.counters[req.Key] += req.Delta
		srv.cond.Broadcast()
		return response{Counter: srv.counters[req.Key]}

	case opDelPrefix:
		for k := range srv.data {
			if strings.HasPrefix(k, req.Key) {
				delete(srv.data, k)
			}
		}
		for k := range srv.counters {
			if strings.HasPrefix(k, req.Key) {
				delete(srv.counters, k)
			}
		}
		return response{}
	}
	return response{Err: fmt.Sprintf("unknown op %d", req.Op)}
}
