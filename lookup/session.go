// Package lookup implements the iterative parallel lookup procedure
// (spec.md §4.I): the α-way FIND_NODE/FIND_VALUE traversal a node runs
// to find the K contacts closest to a target, or to retrieve a value.
package lookup

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ntoll/drogulus/clock"
	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/invariant"
	"github.com/ntoll/drogulus/item"
	"github.com/sirupsen/logrus"
)

// Kind selects which RPC the traversal issues at each contact.
type Kind int

const (
	FindNode Kind = iota
	FindValue
)

// Params tunes the traversal (spec.md §4.I defaults).
type Params struct {
	Alpha    int
	K        int
	Deadline time.Duration
}

// DefaultParams returns α=3, K=20, D=5s.
func DefaultParams() Params {
	return Params{Alpha: 3, K: 20, Deadline: 5 * time.Second}
}

// Sentinel failures (spec.md §4.I steps 1, 7, 8).
var (
	ErrNoPeers       = errors.New("lookup: routing table has no seed contacts")
	ErrValueNotFound = errors.New("lookup: value not found")
	ErrTimeout       = errors.New("lookup: deadline elapsed")
)

// Requester is the node engine's network collaborator: it issues the
// actual wire RPC to a contact and returns its parsed result. Session
// never touches a transport.Transport directly.
type Requester interface {
	// SendFindNode issues FIND_NODE(target) to to and returns its NODES
	// response.
	SendFindNode(ctx context.Context, to *dht.Contact, target id.ID) ([]*dht.Contact, error)

	// SendFindValue issues FIND_VALUE(target) to to. Exactly one of
	// (value, contacts) is populated on success, matching the
	// VALUE-or-NODES response shape (spec.md §4.G).
	SendFindValue(ctx context.Context, to *dht.Contact, target id.ID) (value *item.Item, contacts []*dht.Contact, err error)

	// StoreAt issues an opportunistic STORE of it to to (spec.md §4.F
	// "Opportunistic caching").
	StoreAt(ctx context.Context, to *dht.Contact, it *item.Item) error

	// ContactFailed reports that to did not respond, or responded with
	// an item that failed verification, so the node engine can bump its
	// failure-count bookkeeping in the routing table (spec.md §4.E
	// "Failure accounting").
	ContactFailed(to *dht.Contact)
}

// candidate is one shortlist entry: a contact plus its precomputed
// distance to the lookup target.
type candidate struct {
	contact  *dht.Contact
	distance id.ID
}

type event struct {
	contact  *dht.Contact
	contacts []*dht.Contact
	value    *item.Item
	err      error
}

// Session drives one iterative lookup to completion.
type Session struct {
	target id.ID
	kind   Kind
	params Params
	req    Requester
	clk    clock.Clock

	shortlist []candidate
	contacted map[id.ID]*dht.Contact
	pending   map[id.ID]context.CancelFunc
	nearest   id.ID
	haveValueNonHolder map[id.ID]*dht.Contact // contacted peers known NOT to hold the value
}

// New builds a Session over seed contacts (typically the Closest(target,
// K) result from the local routing table, per spec.md §4.I step 1).
func New(target id.ID, kind Kind, seed []*dht.Contact, req Requester, clk clock.Clock, params Params) (*Session, error) {
	if len(seed) == 0 {
		return nil, ErrNoPeers
	}
	if params.Alpha <= 0 {
		params.Alpha = DefaultParams().Alpha
	}
	if params.K <= 0 {
		params.K = DefaultParams().K
	}
	if params.Deadline <= 0 {
		params.Deadline = DefaultParams().Deadline
	}

	s := &Session{
		target:             target,
		kind:               kind,
		params:             params,
		req:                req,
		clk:                clk,
		contacted:          make(map[id.ID]*dht.Contact),
		pending:            make(map[id.ID]context.CancelFunc),
		haveValueNonHolder: make(map[id.ID]*dht.Contact),
	}
	for _, c := range seed {
		s.shortlist = append(s.shortlist, candidate{contact: c, distance: id.Distance(c.ID, target)})
	}
	s.sortShortlist()
	s.nearest = s.shortlist[0].contact.ID
	return s, nil
}

func (s *Session) sortShortlist() {
	sort.Slice(s.shortlist, func(i, j int) bool {
		return id.Less(s.shortlist[i].distance, s.shortlist[j].distance)
	})
}

// kNearestPrefix returns up to K entries of the current shortlist.
func (s *Session) kNearestPrefix() []candidate {
	n := s.params.K
	if n > len(s.shortlist) {
		n = len(s.shortlist)
	}
	return s.shortlist[:n]
}

// Result is what a completed lookup returns.
type Result struct {
	// Value is non-nil only for a successful FindValue.
	Value *item.Item
	// Contacts is the K closest entries for FindNode, sorted by
	// increasing distance to the target (spec.md §8 invariant 6).
	Contacts []*dht.Contact
}

// Run executes the traversal to completion, per spec.md §4.I steps
// 3-8.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Run", "package": "lookup", "target": s.target.String()})

	ctx, cancel := context.WithTimeout(ctx, s.params.Deadline)
	defer cancel()

	events := make(chan event, s.params.Alpha)
	allowLaunch := true

	for {
		if allowLaunch {
			s.launch(ctx, events)
		}

		if len(s.pending) == 0 {
			if result, done, err := s.terminationCheck(); done {
				return result, err
			}
			// Forced continuation (step 7 "go to step 3"): allow a fresh
			// launch attempt next iteration even though nothing new
			// arrived.
			allowLaunch = true
			continue
		}

		select {
		case <-ctx.Done():
			s.cancelAllPending()
			logger.Warn("lookup deadline elapsed")
			return nil, ErrTimeout
		case ev := <-events:
			launchNow, result, done, err := s.handleEvent(ctx, ev)
			if done {
				return result, err
			}
			allowLaunch = launchNow
		}
	}
}

// launch fills up to α pending slots from the K-nearest prefix not yet
// contacted or in flight (spec.md §4.I step 3).
func (s *Session) launch(ctx context.Context, events chan event) {
	for len(s.pending) < s.params.Alpha {
		c := s.nextUncontacted()
		if c == nil {
			return
		}
		s.contacted[c.ID] = c
		reqCtx, reqCancel := context.WithCancel(ctx)
		s.pending[c.ID] = reqCancel
		go s.issue(reqCtx, c, events)
	}
}

func (s *Session) nextUncontacted() *dht.Contact {
	for _, cand := range s.kNearestPrefix() {
		cid := cand.contact.ID
		if _, done := s.contacted[cid]; done {
			continue
		}
		if _, inFlight := s.pending[cid]; inFlight {
			continue
		}
		return cand.contact
	}
	return nil
}

func (s *Session) issue(ctx context.Context, c *dht.Contact, events chan event) {
	switch s.kind {
	case FindValue:
		value, contacts, err := s.req.SendFindValue(ctx, c, s.target)
		events <- event{contact: c, contacts: contacts, value: value, err: err}
	default:
		contacts, err := s.req.SendFindNode(ctx, c, s.target)
		events <- event{contact: c, contacts: contacts, err: err}
	}
}

// handleEvent processes one completed request (spec.md §4.I steps 5-6).
// The first return value tells Run whether to attempt a fresh launch
// next iteration: either because the shortlist's nearest improved, or
// because a failed/timed-out RPC just freed a pending slot and step 5
// says to "immediately attempt to launch a new request" rather than
// wait for the next scheduling tick.
func (s *Session) handleEvent(ctx context.Context, ev event) (launchNow bool, result *Result, done bool, err error) {
	delete(s.pending, ev.contact.ID)

	if ev.err != nil {
		s.dropFromShortlist(ev.contact.ID)
		s.req.ContactFailed(ev.contact)
		return true, nil, false, nil
	}

	if s.kind == FindValue && ev.value != nil {
		if verr := item.Verify(ev.value, s.clk.Now()); verr != nil {
			s.dropFromShortlist(ev.contact.ID)
			s.req.ContactFailed(ev.contact)
			return false, nil, false, nil
		}
		s.cancelAllPending()
		if nonHolder := s.closestNonHolder(); nonHolder != nil {
			_ = s.req.StoreAt(ctx, nonHolder, ev.value)
		}
		return false, &Result{Value: ev.value}, true, nil
	}

	if s.kind == FindValue {
		s.haveValueNonHolder[ev.contact.ID] = ev.contact
	}

	s.mergeContacts(ev.contacts)

	if len(s.shortlist) > 0 && id.Less(id.Distance(s.shortlist[0].contact.ID, s.target), id.Distance(s.nearest, s.target)) {
		s.nearest = s.shortlist[0].contact.ID
		return true, nil, false, nil
	}
	return false, nil, false, nil
}

// mergeContacts folds newly learned contacts into the shortlist,
// excluding anyone already contacted (spec.md §4.I step 6).
func (s *Session) mergeContacts(contacts []*dht.Contact) {
	existing := make(map[id.ID]bool, len(s.shortlist))
	for _, c := range s.shortlist {
		existing[c.contact.ID] = true
	}
	changed := false
	for _, c := range contacts {
		if c.ID == s.target {
			continue
		}
		if s.contacted[c.ID] != nil || existing[c.ID] {
			continue
		}
		s.shortlist = append(s.shortlist, candidate{contact: c, distance: id.Distance(c.ID, s.target)})
		existing[c.ID] = true
		changed = true
	}
	if changed {
		s.sortShortlist()
	}
}

func (s *Session) dropFromShortlist(target id.ID) {
	for i, c := range s.shortlist {
		if c.contact.ID == target {
			s.shortlist = append(s.shortlist[:i], s.shortlist[i+1:]...)
			return
		}
	}
}

// closestNonHolder returns the closest-to-target contacted peer that is
// known not to hold the value, for opportunistic caching.
func (s *Session) closestNonHolder() *dht.Contact {
	var best *dht.Contact
	var bestDist id.ID
	first := true
	for _, c := range s.haveValueNonHolder {
		d := id.Distance(c.ID, s.target)
		if first || id.Less(d, bestDist) {
			best, bestDist, first = c, d, false
		}
	}
	return best
}

func (s *Session) cancelAllPending() {
	for cid, cancel := range s.pending {
		cancel()
		delete(s.pending, cid)
	}
}

// terminationCheck implements spec.md §4.I step 7.
func (s *Session) terminationCheck() (*Result, bool, error) {
	if s.kind == FindValue {
		return nil, true, ErrValueNotFound
	}

	prefix := s.kNearestPrefix()
	for _, cand := range prefix {
		if s.contacted[cand.contact.ID] == nil {
			return nil, false, nil
		}
	}

	contacts := make([]*dht.Contact, 0, len(prefix))
	for _, cand := range prefix {
		contacts = append(contacts, cand.contact)
	}
	invariant.Check(len(contacts) <= s.params.K, "lookup returned more contacts than K",
		logrus.Fields{"package": "lookup", "k": s.params.K, "got": len(contacts)})
	return &Result{Contacts: contacts}, true, nil
}
