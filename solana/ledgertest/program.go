package ledgertest

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	solstep "solstep-cli/solana"
)

// Challenge returns the program's view of a challenge.
func (l *Ledger) Challenge(key solana.PublicKey) (solstep.Challenge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.challenges[key]
	if !ok {
		return solstep.Challenge{}, false
	}
	c := st.Challenge
	c.Participants = append([]solana.PublicKey(nil), st.Participants...)
	return c, true
}

// Settled reports whether settle_challenge succeeded for key.
func (l *Ledger) Settled(key solana.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.challenges[key]
	return ok && st.settled
}

// TimedOut reports whether timeout_challenge succeeded for key.
func (l *Ledger) TimedOut(key solana.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.challenges[key]
	return ok && st.timedOut
}

// execute applies every program instruction in tx atomically. Callers hold mu.
func (l *Ledger) execute(tx *solana.Transaction) error {
	accountsBefore := make(map[solana.PublicKey]account, len(l.accounts))
	for k, a := range l.accounts {
		accountsBefore[k] = *a
	}
	challengesBefore := make(map[solana.PublicKey]challengeState, len(l.challenges))
	for k, c := range l.challenges {
		cp := *c
		cp.Participants = append([]solana.PublicKey(nil), c.Participants...)
		challengesBefore[k] = cp
	}

	err := l.executeAll(tx)
	if err != nil {
		l.accounts = make(map[solana.PublicKey]*account, len(accountsBefore))
		for k, a := range accountsBefore {
			a := a
			l.accounts[k] = &a
		}
		l.challenges = make(map[solana.PublicKey]*challengeState, len(challengesBefore))
		for k, c := range challengesBefore {
			c := c
			l.challenges[k] = &c
		}
	}
	return err
}

func (l *Ledger) executeAll(tx *solana.Transaction) error {
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			return errors.New("program index out of range")
		}
		if !keys[ix.ProgramIDIndex].Equals(l.Program.ID) {
			return fmt.Errorf("unsupported program %s", keys[ix.ProgramIDIndex])
		}
		accounts := make([]*solana.AccountMeta, len(ix.Accounts))
		for i, idx := range ix.Accounts {
			if int(idx) >= len(keys) {
				return errors.New("account index out of range")
			}
			accounts[i] = &solana.AccountMeta{
				PublicKey: keys[idx],
				IsSigner:  tx.IsSigner(keys[idx]),
			}
		}
		decoded, err := DecodeInstruction(ix.Data)
		if err != nil {
			return fmt.Errorf("invalid instruction data: %w", err)
		}
		if err := l.apply(decoded, accounts); err != nil {
			return fmt.Errorf("%s: %w", decoded.Name, err)
		}
	}
	return nil
}

var (
	errMissingAccounts = errors.New("not enough account keys")
	errMissingSigner   = errors.New("missing required signature")
	errSeeds           = errors.New("a seeds constraint was violated")
	errAlreadyInUse    = errors.New("account already in use")
	errNotInitialized  = errors.New("account not initialized")
	errConstraint      = errors.New("a has_one constraint was violated")
)

func (l *Ledger) apply(ix *DecodedInstruction, accounts []*solana.AccountMeta) error {
	want := map[string]int{
		"create_challenge":   4,
		"join_challenge":     4,
		"init_escrow":        4,
		"finalize_challenge": 2,
		"settle_challenge":   6,
		"timeout_challenge":  5,
		"close_challenge":    2,
	}[ix.Name]
	if len(accounts) < want {
		return errMissingAccounts
	}
	if !accounts[0].IsSigner {
		return errMissingSigner
	}
	now := l.Clock.Now().Unix()

	switch ix.Name {
	case "create_challenge":
		organizer, stats, challenge := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
		expected, bump, err := l.Program.GetChallengePDA(organizer)
		if err != nil || !expected.Equals(challenge) || !l.Program.OrganizerStatsAddress(organizer).Equals(stats) {
			return errSeeds
		}
		if _, exists := l.challenges[challenge]; exists {
			return errAlreadyInUse
		}
		if ix.EndTs <= ix.StartTs || ix.MaxParticipants == 0 {
			return errors.New("invalid challenge parameters")
		}
		st := &challengeState{
			Challenge: solstep.Challenge{
				PublicKey:       challenge,
				Organizer:       organizer,
				StakeAmount:     ix.StakeAmount,
				StartTs:         ix.StartTs,
				EndTs:           ix.EndTs,
				MaxParticipants: ix.MaxParticipants,
			},
			title: ix.Title,
			bump:  bump,
		}
		l.challenges[challenge] = st
		l.accountFor(stats).owner = l.Program.ID

	case "init_escrow":
		organizer, challenge, escrow := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
		st, err := l.ownedChallenge(challenge, organizer)
		if err != nil {
			return err
		}
		if !l.Program.EscrowAddress(challenge).Equals(escrow) {
			return errSeeds
		}
		if st.escrow {
			return errAlreadyInUse
		}
		// An escrow left over from a closed challenge keeps its reserve.
		if held := l.accountFor(escrow).lamports; held < RentReserve {
			if err := l.transfer(organizer, escrow, RentReserve-held); err != nil {
				return err
			}
		}
		l.accounts[escrow].owner = l.Program.ID
		st.escrow = true

	case "join_challenge":
		participant, challenge, escrow := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
		st, ok := l.challenges[challenge]
		if !ok {
			return errNotInitialized
		}
		if !st.escrow || !l.Program.EscrowAddress(challenge).Equals(escrow) {
			return errSeeds
		}
		if now >= st.EndTs || st.IsFinalized || st.settled || st.timedOut {
			return errors.New("challenge is not accepting participants")
		}
		if st.ParticipantCount >= st.MaxParticipants {
			return errors.New("challenge is full")
		}
		if st.HasParticipant(participant) {
			return errors.New("already joined")
		}
		if err := l.transfer(participant, escrow, st.StakeAmount); err != nil {
			return err
		}
		st.Participants = append(st.Participants, participant)
		st.ParticipantCount++
		st.TotalStake += st.StakeAmount

	case "finalize_challenge":
		organizer, challenge := accounts[0].PublicKey, accounts[1].PublicKey
		st, err := l.ownedChallenge(challenge, organizer)
		if err != nil {
			return err
		}
		if now < st.EndTs {
			return errors.New("challenge has not ended")
		}
		if st.IsFinalized || st.timedOut {
			return errors.New("challenge already finalized")
		}
		st.IsFinalized = true

	case "settle_challenge":
		organizer, winner, loser := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
		challenge, escrow := accounts[3].PublicKey, accounts[4].PublicKey
		st, err := l.ownedChallenge(challenge, organizer)
		if err != nil {
			return err
		}
		if !l.Program.EscrowAddress(challenge).Equals(escrow) {
			return errSeeds
		}
		if !st.escrow {
			return errNotInitialized
		}
		if st.settled || st.timedOut {
			return errors.New("challenge already settled")
		}
		if winner.Equals(loser) || !st.HasParticipant(winner) || !st.HasParticipant(loser) {
			return errors.New("winner and loser must be distinct participants")
		}
		payout := l.accountFor(escrow).lamports - RentReserve
		if err := l.transfer(escrow, winner, payout); err != nil {
			return err
		}
		st.settled = true

	case "timeout_challenge":
		challenge, escrow, organizer := accounts[1].PublicKey, accounts[2].PublicKey, accounts[3].PublicKey
		st, err := l.ownedChallenge(challenge, organizer)
		if err != nil {
			return err
		}
		if !l.Program.EscrowAddress(challenge).Equals(escrow) {
			return errSeeds
		}
		if now < st.EndTs {
			return errors.New("challenge has not ended")
		}
		if st.IsFinalized || st.settled || st.timedOut {
			return errors.New("challenge already finalized")
		}
		if st.escrow {
			for _, p := range st.Participants {
				if err := l.transfer(escrow, p, st.StakeAmount); err != nil {
					return err
				}
			}
		}
		st.timedOut = true

	case "close_challenge":
		organizer, challenge := accounts[0].PublicKey, accounts[1].PublicKey
		st, err := l.ownedChallenge(challenge, organizer)
		if err != nil {
			return err
		}
		if !st.settled && !st.timedOut {
			return errors.New("challenge is still open")
		}
		a := l.accounts[challenge]
		if a != nil {
			l.accountFor(organizer).lamports += a.lamports
		}
		delete(l.accounts, challenge)
		delete(l.challenges, challenge)
		return nil
	}

	l.writeChallengeAccounts()
	return nil
}

func (l *Ledger) ownedChallenge(challenge, organizer solana.PublicKey) (*challengeState, error) {
	st, ok := l.challenges[challenge]
	if !ok {
		return nil, errNotInitialized
	}
	if !st.Organizer.Equals(organizer) {
		return nil, errConstraint
	}
	return st, nil
}

func (l *Ledger) transfer(from, to solana.PublicKey, lamports uint64) error {
	src := l.accountFor(from)
	if src.lamports < lamports {
		return fmt.Errorf("insufficient lamports %d, need %d", src.lamports, lamports)
	}
	src.lamports -= lamports
	l.accountFor(to).lamports += lamports
	return nil
}

// writeChallengeAccounts mirrors program state into account data.
func (l *Ledger) writeChallengeAccounts() {
	for key, st := range l.challenges {
		a := l.accountFor(key)
		a.owner = l.Program.ID
		a.data = EncodeChallengeAccount(&st.Challenge, st.bump)
	}
}
