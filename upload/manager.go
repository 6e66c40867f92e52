package upload

import (
	"sync"
	"time"

	"github.com/mediafire/mediafire-go/filehash"
	"github.com/mediafire/mediafire-go/mfhttp"
	"golang.org/x/sync/semaphore"
)

const (
	maxConcurrentHashings = 2
	maxConcurrentUploads  = 2
	tokenBackoff          = 15 * time.Second
	tokenLifetimeFraction = 18 * time.Hour // 3/4 of the server's 24h lifetime
)

// ModifyAction is the event kind Manager.Modify dispatches into a
// machine (spec §4.6.2).
type ModifyAction int

const (
	ModifyCancel ModifyAction = iota
	ModifyPause
)

type tokenState int

const (
	tokenInvalid tokenState = iota
	tokenRetrieving
	tokenErrored
	tokenValid
)

// Manager is the upload manager (C6): it owns a set of per-file state
// machines, FIFO admission queues bounded by max_concurrent_hashings/
// max_concurrent_uploads, a duplicate-hash coalescing set, and the
// cached action token every upload-family call needs.
type Manager struct {
	cfg *Config

	mu sync.Mutex

	machines map[Handle]*Machine
	toHash   []Handle
	toUpload []Handle

	hashingSet   map[Handle]bool
	uploadingSet map[Handle]bool

	hashingSem  *semaphore.Weighted
	uploadingSem *semaphore.Weighted

	handleDigest    map[Handle]filehash.Digest
	uploadingHashes map[filehash.Digest]bool

	token           string
	tokenState      tokenState
	tokenExpiry     time.Time
	tokenRetryAfter time.Time

	destroyed bool
}

// NewManager builds an empty Manager sharing cfg with every Machine it
// admits.
func NewManager(cfg *Config) *Manager {
	return &Manager{
		cfg:             cfg,
		machines:        make(map[Handle]*Machine),
		hashingSet:      make(map[Handle]bool),
		uploadingSet:    make(map[Handle]bool),
		hashingSem:      semaphore.NewWeighted(maxConcurrentHashings),
		uploadingSem:    semaphore.NewWeighted(maxConcurrentUploads),
		handleDigest:    make(map[Handle]filehash.Digest),
		uploadingHashes: make(map[filehash.Digest]bool),
	}
}

// Add registers req as a new upload and kicks the tick loop (spec
// §4.6.1). Returns 0 if the manager has already been closed.
func (mgr *Manager) Add(req *Request, status StatusFunc) Handle {
	handle := nextHandle()
	m := newMachine(mgr.cfg, req, handle, status, mgr.onMachineHashed, mgr.onMachineTerminal)

	mgr.mu.Lock()
	if mgr.destroyed {
		mgr.mu.Unlock()
		return 0
	}
	mgr.machines[handle] = m
	if req.Hash != nil {
		mgr.handleDigest[handle] = req.Hash.WholeFile
		mgr.toUpload = append(mgr.toUpload, handle)
	} else {
		mgr.toHash = append(mgr.toHash, handle)
	}
	mgr.mu.Unlock()

	m.Start()
	mgr.tick()
	return handle
}

// Modify dispatches a Cancel or Pause event into handle's machine (spec
// §4.6.2). A handle the manager no longer knows about (already terminal,
// or never existed) is a silent no-op.
func (mgr *Manager) Modify(handle Handle, action ModifyAction) {
	mgr.mu.Lock()
	m, ok := mgr.machines[handle]
	mgr.mu.Unlock()
	if !ok {
		return
	}
	switch action {
	case ModifyCancel:
		m.Cancel()
	case ModifyPause:
		m.Pause()
	}
}

// Close is the manager's destructor (spec §4.6.4): it marks the manager
// destroyed (further grants/admissions become no-ops) and cancels each
// machine. The machines' hashed/terminal hooks still run and update the
// manager's bookkeeping, but tick issues no further grants.
func (mgr *Manager) Close() {
	mgr.mu.Lock()
	mgr.destroyed = true
	machines := make([]*Machine, 0, len(mgr.machines))
	for _, m := range mgr.machines {
		machines = append(machines, m)
	}
	mgr.mu.Unlock()

	for _, m := range machines {
		m.Cancel()
	}
}

// tick implements spec §4.6.3 under the manager lock, releasing it
// before any external call (posting to a machine, fetching a token) to
// avoid lock inversion (spec §5's shared-resource policy).
func (mgr *Manager) tick() {
	mgr.mu.Lock()

	if mgr.destroyed {
		mgr.mu.Unlock()
		return
	}

	var hashGrants []*Machine
	for len(mgr.toHash) > 0 && mgr.hashingSem.TryAcquire(1) {
		h := mgr.toHash[0]
		mgr.toHash = mgr.toHash[1:]
		m, ok := mgr.machines[h]
		if !ok {
			mgr.hashingSem.Release(1)
			continue
		}
		mgr.hashingSet[h] = true
		hashGrants = append(hashGrants, m)
	}

	type grant struct {
		m     *Machine
		token string
	}
	var uploadGrants []grant
	needTokenFetch := false

	if len(mgr.toUpload) > 0 {
		if mgr.tokenState == tokenValid && time.Now().Before(mgr.tokenExpiry) {
			remaining := make([]Handle, 0, len(mgr.toUpload))
			for _, h := range mgr.toUpload {
				digest, known := mgr.handleDigest[h]
				if known && mgr.uploadingHashes[digest] {
					remaining = append(remaining, h)
					continue
				}
				if !mgr.uploadingSem.TryAcquire(1) {
					remaining = append(remaining, h)
					continue
				}
				m, ok := mgr.machines[h]
				if !ok {
					mgr.uploadingSem.Release(1)
					continue
				}
				if known {
					mgr.uploadingHashes[digest] = true
				}
				mgr.uploadingSet[h] = true
				uploadGrants = append(uploadGrants, grant{m, mgr.token})
			}
			mgr.toUpload = remaining
		} else if mgr.tokenState != tokenRetrieving && time.Now().After(mgr.tokenRetryAfter) {
			mgr.tokenState = tokenRetrieving
			needTokenFetch = true
		}
	}

	mgr.mu.Unlock()

	for _, m := range hashGrants {
		m.PostStartHash()
	}
	for _, g := range uploadGrants {
		g.m.PostStartUpload(g.token)
	}
	if needTokenFetch {
		mgr.workExecutor().Go(mgr.refreshToken)
	}
}

func (mgr *Manager) workExecutor() mfhttp.Executor {
	if mgr.cfg.WorkExecutor != nil {
		return mgr.cfg.WorkExecutor
	}
	return mfhttp.DefaultExecutor
}

// refreshToken fetches a fresh action token (spec §4.6's "action-token
// cache"); a failure backs off 15s before the next attempt, a success
// caches for 3/4 of the server's documented lifetime.
func (mgr *Manager) refreshToken() {
	token, lifetime, err := mgr.cfg.API.GetActionToken()

	mgr.mu.Lock()
	if err != nil {
		mgr.tokenState = tokenErrored
		mgr.tokenRetryAfter = time.Now().Add(tokenBackoff)
		mgr.mu.Unlock()
		return
	}
	if lifetime <= 0 || lifetime > tokenLifetimeFraction {
		lifetime = tokenLifetimeFraction
	}
	mgr.token = token
	mgr.tokenState = tokenValid
	mgr.tokenExpiry = time.Now().Add(lifetime)
	mgr.mu.Unlock()

	mgr.tick()
}

// onMachineHashed is the Machine hook fired once hashing completes (spec
// §4.5.1's Hashing --HashSuccess--> WaitForUploadSignal transition): it
// releases the hashing slot, records the digest for duplicate-hash
// coalescing, and enqueues the machine for uploading.
func (mgr *Manager) onMachineHashed(handle Handle, res *filehash.Result) {
	mgr.mu.Lock()
	if mgr.hashingSet[handle] {
		delete(mgr.hashingSet, handle)
		mgr.hashingSem.Release(1)
	}
	mgr.handleDigest[handle] = res.WholeFile
	mgr.toUpload = append(mgr.toUpload, handle)
	mgr.mu.Unlock()

	mgr.tick()
}

// onMachineTerminal is the Machine hook fired once a machine reaches
// CompleteWithSuccess or CompleteWithError: it releases every slot the
// machine was holding and forgets the handle.
func (mgr *Manager) onMachineTerminal(handle Handle) {
	mgr.mu.Lock()
	delete(mgr.machines, handle)
	if mgr.hashingSet[handle] {
		delete(mgr.hashingSet, handle)
		mgr.hashingSem.Release(1)
	}
	ownedUploadSlot := mgr.uploadingSet[handle]
	if ownedUploadSlot {
		delete(mgr.uploadingSet, handle)
		mgr.uploadingSem.Release(1)
	}
	if digest, ok := mgr.handleDigest[handle]; ok {
		delete(mgr.handleDigest, handle)
		// Only the handle that actually holds the upload slot for this
		// digest owns the coalescing lock; a coalesced duplicate parked
		// in toUpload must not release the real uploader's lock out from
		// under it.
		if ownedUploadSlot {
			delete(mgr.uploadingHashes, digest)
		}
	}
	mgr.mu.Unlock()

	mgr.tick()
}
