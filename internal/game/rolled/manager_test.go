package rolled

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-card-bot/internal/cardgen"
	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
	"telegram-card-bot/internal/repository"
)

type fakeCards struct {
	mu     sync.Mutex
	cards  map[int64]*model.Card
	nextID int64
}

func newFakeCards() *fakeCards {
	return &fakeCards{cards: make(map[int64]*model.Card)}
}

func (s *fakeCards) Create(_ context.Context, chatID int64, title string, tier rarity.Tier, imageFileID string) (*model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &model.Card{ID: s.nextID, ChatID: chatID, Title: title, Rarity: tier, ImageFileID: imageFileID, CreatedAt: time.Now()}
	s.cards[c.ID] = c
	out := *c
	return &out, nil
}

func (s *fakeCards) GetByID(_ context.Context, cardID int64) (*model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil, repository.ErrCardNotFound
	}
	out := *c
	return &out, nil
}

func (s *fakeCards) ClaimIfUnowned(_ context.Context, cardID int64, ownerID int64, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok || c.Owner != nil {
		return false, nil
	}
	c.Owner = &owner
	c.OwnerID = &ownerID
	return true, nil
}

func (s *fakeCards) SetOwner(_ context.Context, cardID int64, ownerID *int64, owner *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return repository.ErrCardNotFound
	}
	c.Owner = owner
	c.OwnerID = ownerID
	return nil
}

func (s *fakeCards) SetLocked(_ context.Context, cardID int64, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return repository.ErrCardNotFound
	}
	c.Locked = locked
	return nil
}

type fakeRolls struct {
	mu     sync.Mutex
	rolls  map[int64]*model.RolledCard
	nextID int64
}

func newFakeRolls() *fakeRolls {
	return &fakeRolls{rolls: make(map[int64]*model.RolledCard)}
}

func (s *fakeRolls) Create(_ context.Context, cardID, rollerID int64, tier rarity.Tier) (*model.RolledCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := &model.RolledCard{
		RollID:           s.nextID,
		OriginalCardID:   cardID,
		CreatedAt:        time.Now(),
		OriginalRollerID: rollerID,
		OriginalRarity:   tier,
	}
	s.rolls[r.RollID] = r
	out := *r
	return &out, nil
}

func (s *fakeRolls) GetByID(_ context.Context, rollID int64) (*model.RolledCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolls[rollID]
	if !ok {
		return nil, repository.ErrRolledCardNotFound
	}
	out := *r
	return &out, nil
}

func (s *fakeRolls) GetByCardID(_ context.Context, cardID int64) (*model.RolledCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rolls {
		if r.OriginalCardID == cardID || (r.RerolledCardID != nil && *r.RerolledCardID == cardID) {
			out := *r
			return &out, nil
		}
	}
	return nil, repository.ErrRolledCardNotFound
}

// BeginReroll mirrors the repository's single conditional update.
func (s *fakeRolls) BeginReroll(_ context.Context, rollID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolls[rollID]
	if !ok || r.BeingRerolled || r.Rerolled || r.IsLocked {
		return false, nil
	}
	r.BeingRerolled = true
	return true, nil
}

func (s *fakeRolls) AbortReroll(_ context.Context, rollID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rolls[rollID]; ok {
		r.BeingRerolled = false
	}
	return nil
}

func (s *fakeRolls) CompleteReroll(_ context.Context, rollID, newCardID int64) (*model.RolledCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolls[rollID]
	if !ok || !r.BeingRerolled {
		return nil, repository.ErrRolledCardNotFound
	}
	r.Rerolled = true
	r.BeingRerolled = false
	r.RerolledCardID = &newCardID
	out := *r
	return &out, nil
}

func (s *fakeRolls) SetLocked(_ context.Context, rollID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolls[rollID]
	if !ok {
		return repository.ErrRolledCardNotFound
	}
	r.IsLocked = true
	return nil
}

func (s *fakeRolls) AppendAttemptedBy(_ context.Context, rollID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolls[rollID]
	if !ok {
		return repository.ErrRolledCardNotFound
	}
	for _, u := range r.AttemptedByList() {
		if u == username {
			return nil
		}
	}
	if r.AttemptedBy == "" {
		r.AttemptedBy = username
	} else {
		r.AttemptedBy += "," + username
	}
	return nil
}

type balanceKey struct{ userID, chatID int64 }

type fakeBalances struct {
	mu          sync.Mutex
	claimPoints map[balanceKey]int64
	spins       map[balanceKey]int64
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{
		claimPoints: make(map[balanceKey]int64),
		spins:       make(map[balanceKey]int64),
	}
}

func (s *fakeBalances) adjust(m map[balanceKey]int64, userID, chatID, amount int64) (*model.ChatBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := balanceKey{userID, chatID}
	if m[k]+amount < 0 {
		return nil, repository.ErrInsufficientBalance
	}
	m[k] += amount
	return &model.ChatBalance{
		UserID:      userID,
		ChatID:      chatID,
		ClaimPoints: s.claimPoints[k],
		Spins:       s.spins[k],
	}, nil
}

func (s *fakeBalances) ReduceClaimPoints(_ context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return s.adjust(s.claimPoints, userID, chatID, -amount)
}

func (s *fakeBalances) IncrementClaimPoints(_ context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return s.adjust(s.claimPoints, userID, chatID, amount)
}

func (s *fakeBalances) ReduceSpins(_ context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return s.adjust(s.spins, userID, chatID, -amount)
}

func (s *fakeBalances) IncrementSpins(_ context.Context, userID, chatID, amount int64) (*model.ChatBalance, error) {
	return s.adjust(s.spins, userID, chatID, amount)
}

func (s *fakeBalances) claimPointsOf(userID, chatID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimPoints[balanceKey{userID, chatID}]
}

func (s *fakeBalances) spinsOf(userID, chatID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spins[balanceKey{userID, chatID}]
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []*model.LedgerEntry
}

func (s *fakeLedger) Record(_ context.Context, userID, chatID int64, currency string, amount int64, entryType string, description *string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &model.LedgerEntry{UserID: userID, ChatID: chatID, Currency: currency, Amount: amount, Type: entryType, Description: description}
	s.entries = append(s.entries, e)
	return e, nil
}

type fakeSources struct {
	profile *model.SourceProfile
}

func (s *fakeSources) SelectRandomWithImage(context.Context, int64) (*model.SourceProfile, error) {
	return s.profile, nil
}

// fakeGen returns a card titled after the requested tier, or the
// configured errors first.
type fakeGen struct {
	mu   sync.Mutex
	errs []error
}

func (g *fakeGen) Generate(_ context.Context, _ *model.SourceProfile, tier rarity.Tier) (*cardgen.GeneratedCard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	return &cardgen.GeneratedCard{Title: "Generated " + string(tier), Rarity: tier, ImageFileID: "file"}, nil
}

type fixture struct {
	cards    *fakeCards
	rolls    *fakeRolls
	balances *fakeBalances
	ledger   *fakeLedger
	gen      *fakeGen
	manager  *Manager
}

func newFixture() *fixture {
	f := &fixture{
		cards:    newFakeCards(),
		rolls:    newFakeRolls(),
		balances: newFakeBalances(),
		ledger:   &fakeLedger{},
		gen:      &fakeGen{},
	}
	f.manager = New(f.cards, f.rolls, f.balances, f.ledger,
		&fakeSources{profile: &model.SourceProfile{Type: model.SourceUser, ID: 9, ChatID: -100, PortraitFileID: "p"}},
		f.gen, rarity.Default(), Config{RerollWindow: 5 * time.Minute, MaxRetries: 2}, zerolog.Nop())
	return f
}

// rolledCard seeds a card and its roll record directly.
func (f *fixture) rolledCard(t *testing.T, tier rarity.Tier, rollerID int64) (*model.Card, *model.RolledCard) {
	t.Helper()
	card, err := f.cards.Create(context.Background(), -100, "Seeded", tier, "file")
	require.NoError(t, err)
	roll, err := f.rolls.Create(context.Background(), card.ID, rollerID, tier)
	require.NoError(t, err)
	return card, roll
}

func (f *fixture) fund(userID int64, claimPoints, spins int64) {
	f.balances.claimPoints[balanceKey{userID, -100}] = claimPoints
	f.balances.spins[balanceKey{userID, -100}] = spins
}

var (
	alice = Identity{UserID: 1, Username: "alice"}
	bob   = Identity{UserID: 2, Username: "bob"}
)

func TestRoll(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 0, 3)

	card, roll, err := f.manager.Roll(context.Background(), alice, -100)
	require.NoError(t, err)
	assert.Equal(t, card.ID, roll.OriginalCardID)
	assert.Equal(t, alice.UserID, roll.OriginalRollerID)
	assert.Nil(t, card.Owner)
	assert.Equal(t, int64(2), f.balances.spinsOf(alice.UserID, -100))
}

func TestRoll_NoSpins(t *testing.T) {
	f := newFixture()

	_, _, err := f.manager.Roll(context.Background(), alice, -100)
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)
}

func TestRoll_RefundsSpinOnGenerationFailure(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 0, 1)
	f.gen.errs = []error{cardgen.ErrImageGeneration, cardgen.ErrImageGeneration, cardgen.ErrImageGeneration}

	_, _, err := f.manager.Roll(context.Background(), alice, -100)
	assert.ErrorIs(t, err, cardgen.ErrImageGeneration)
	assert.Equal(t, int64(1), f.balances.spinsOf(alice.UserID, -100), "spin refunded")
}

func TestClaim_Success(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 20, 0)
	_, roll := f.rolledCard(t, rarity.Rare, bob.UserID)

	result, card, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.Equal(t, ClaimSuccess, result)
	require.NotNil(t, card.Owner)
	assert.Equal(t, "alice", *card.Owner)
	assert.Equal(t, int64(10), f.balances.claimPointsOf(alice.UserID, -100), "rare claim costs 10")
}

func TestClaim_IdempotentForOwner(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 20, 0)
	_, roll := f.rolledCard(t, rarity.Rare, bob.UserID)

	_, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	result, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.Equal(t, ClaimAlreadyOwned, result)
	assert.Equal(t, int64(10), f.balances.claimPointsOf(alice.UserID, -100), "no re-charge")
}

func TestClaim_TakenRecordsAttempt(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 20, 0)
	f.fund(bob.UserID, 20, 0)
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)

	_, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	result, _, err := f.manager.Claim(context.Background(), roll.RollID, bob, -100)
	require.NoError(t, err)
	assert.Equal(t, ClaimTaken, result)
	assert.Equal(t, int64(20), f.balances.claimPointsOf(bob.UserID, -100), "loser not charged")

	updated, err := f.rolls.GetByID(context.Background(), roll.RollID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.AttemptedByList())

	// A repeat attempt does not duplicate the record.
	_, _, err = f.manager.Claim(context.Background(), roll.RollID, bob, -100)
	require.NoError(t, err)
	updated, err = f.rolls.GetByID(context.Background(), roll.RollID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.AttemptedByList())
}

func TestClaim_InsufficientBalance(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 3, 0)
	_, roll := f.rolledCard(t, rarity.Common, bob.UserID)

	result, card, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.Equal(t, ClaimInsufficientBalance, result)
	assert.Nil(t, card.Owner, "ownership untouched")
	assert.Equal(t, int64(3), f.balances.claimPointsOf(alice.UserID, -100))
}

func TestClaim_DroppedWhileRerolling(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 20, 0)
	_, roll := f.rolledCard(t, rarity.Common, bob.UserID)

	won, err := f.rolls.BeginReroll(context.Background(), roll.RollID)
	require.NoError(t, err)
	require.True(t, won)

	result, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.Equal(t, ClaimUnavailable, result)
	assert.Equal(t, int64(20), f.balances.claimPointsOf(alice.UserID, -100))
}

// Two concurrent claims on the same card: exactly one wins, the loser
// is refunded and recorded in attempted_by.
func TestClaim_ConcurrentRace(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 20, 0)
	f.fund(bob.UserID, 20, 0)
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)

	results := make(chan ClaimResult, 2)
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, claimer := range []Identity{alice, bob} {
		wg.Add(1)
		go func(id Identity) {
			defer wg.Done()
			result, _, err := f.manager.Claim(context.Background(), roll.RollID, id, -100)
			errs <- err
			results <- result
		}(claimer)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var success, taken int
	for r := range results {
		switch r {
		case ClaimSuccess:
			success++
		case ClaimTaken:
			taken++
		}
	}
	assert.Equal(t, 1, success, "exactly one claim wins")
	assert.Equal(t, 1, taken)

	// The loser kept their full balance: charged 5, refunded 5.
	total := f.balances.claimPointsOf(alice.UserID, -100) + f.balances.claimPointsOf(bob.UserID, -100)
	assert.Equal(t, int64(35), total, "one claim cost deducted across both claimers")
}

func TestLock(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 30, 0)
	card, roll := f.rolledCard(t, rarity.Rare, bob.UserID)

	_, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	cost, balance, err := f.manager.Lock(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.Equal(t, int64(20), cost, "rare lock costs 20")
	assert.Equal(t, int64(0), balance.ClaimPoints)

	locked, err := f.cards.GetByID(context.Background(), card.ID)
	require.NoError(t, err)
	assert.True(t, locked.Locked)

	updatedRoll, err := f.rolls.GetByID(context.Background(), roll.RollID)
	require.NoError(t, err)
	assert.True(t, updatedRoll.IsLocked)

	// A locked card can never be rerolled, even by the roller.
	_, _, err = f.manager.Reroll(context.Background(), roll.RollID, bob, -100)
	assert.ErrorIs(t, err, ErrCardLocked)
}

func TestLock_OnlyOwner(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 30, 0)
	_, roll := f.rolledCard(t, rarity.Common, bob.UserID)

	_, _, err := f.manager.Lock(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, _, err = f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	_, _, err = f.manager.Lock(context.Background(), roll.RollID, bob, -100)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestLock_InsufficientBalance(t *testing.T) {
	f := newFixture()
	f.fund(alice.UserID, 8, 0)
	card, roll := f.rolledCard(t, rarity.Common, bob.UserID)

	_, _, err := f.manager.Claim(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	// 3 points left after the claim; lock needs 10.
	_, _, err = f.manager.Lock(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	unlocked, err := f.cards.GetByID(context.Background(), card.ID)
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
}

func TestReroll(t *testing.T) {
	f := newFixture()
	card, roll := f.rolledCard(t, rarity.Epic, alice.UserID)

	newCard, updated, err := f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
	assert.NotEqual(t, card.ID, newCard.ID)
	assert.True(t, updated.Rerolled)
	assert.False(t, updated.BeingRerolled, "flag cleared on success")
	require.NotNil(t, updated.RerolledCardID)
	assert.Equal(t, newCard.ID, *updated.RerolledCardID)
	assert.Equal(t, rarity.Epic, updated.OriginalRarity)
	assert.LessOrEqual(t, rarity.Rank(newCard.Rarity), rarity.Rank(rarity.Epic), "never upgrades")
	assert.Equal(t, newCard.ID, updated.ActiveCardID())
}

func TestReroll_OnlyRoller(t *testing.T) {
	f := newFixture()
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)

	_, _, err := f.manager.Reroll(context.Background(), roll.RollID, bob, -100)
	assert.ErrorIs(t, err, ErrNotRoller)
}

func TestReroll_OnlyOnce(t *testing.T) {
	f := newFixture()
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)

	_, _, err := f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	_, _, err = f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, ErrAlreadyRerolled)
}

func TestReroll_WindowExpired(t *testing.T) {
	f := newFixture()
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)
	f.rolls.rolls[roll.RollID].CreatedAt = time.Now().Add(-6 * time.Minute)

	_, _, err := f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, ErrRerollWindowExpired)
}

func TestReroll_MutualExclusion(t *testing.T) {
	f := newFixture()
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)

	won, err := f.rolls.BeginReroll(context.Background(), roll.RollID)
	require.NoError(t, err)
	require.True(t, won)

	_, _, err = f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, ErrRerollInFlight)
}

func TestReroll_ClearsFlagOnFailure(t *testing.T) {
	f := newFixture()
	_, roll := f.rolledCard(t, rarity.Common, alice.UserID)
	f.gen.errs = []error{cardgen.ErrImageGeneration, cardgen.ErrImageGeneration, cardgen.ErrImageGeneration}

	_, _, err := f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	assert.ErrorIs(t, err, cardgen.ErrImageGeneration)

	updated, err := f.rolls.GetByID(context.Background(), roll.RollID)
	require.NoError(t, err)
	assert.False(t, updated.BeingRerolled, "flag cleared on failure")
	assert.False(t, updated.Rerolled)

	// The reroll can be retried after the failure.
	_, _, err = f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)
}

func TestReroll_RefundsPreviousOwner(t *testing.T) {
	f := newFixture()
	f.fund(bob.UserID, 50, 0)
	_, roll := f.rolledCard(t, rarity.Epic, alice.UserID)

	_, _, err := f.manager.Claim(context.Background(), roll.RollID, bob, -100)
	require.NoError(t, err)
	assert.Equal(t, int64(30), f.balances.claimPointsOf(bob.UserID, -100), "epic claim costs 20")

	_, _, err = f.manager.Reroll(context.Background(), roll.RollID, alice, -100)
	require.NoError(t, err)

	assert.Equal(t, int64(50), f.balances.claimPointsOf(bob.UserID, -100), "invalidated claim refunded")
}

func TestAward(t *testing.T) {
	f := newFixture()

	card, err := f.manager.Award(context.Background(), alice, -100,
		&model.SourceProfile{Type: model.SourceUser, ID: 9, ChatID: -100, PortraitFileID: "p"}, rarity.Legendary)
	require.NoError(t, err)
	require.NotNil(t, card.Owner)
	assert.Equal(t, "alice", *card.Owner)
	assert.Equal(t, rarity.Legendary, card.Rarity)

	roll, err := f.manager.GetByCardID(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, roll.OriginalRollerID)
}
