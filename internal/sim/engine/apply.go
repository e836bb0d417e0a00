package engine

import (
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/mine"
	"warmines.gg/internal/sim/token"
)

func actionResult(now time.Time, ref string, ok bool, code, msg string) protocol.Event {
	ev := protocol.Event{
		"at":   now.Unix(),
		"type": "ACTION_RESULT",
		"ref":  ref,
		"ok":   ok,
	}
	if code != "" {
		ev["code"] = code
	}
	if msg != "" {
		ev["msg"] = msg
	}
	return ev
}

func (e *Engine) applyCmd(env ActionEnvelope) {
	now := e.clock()
	cmd := env.Cmd

	result, extra, err := e.dispatch(env.PlayerID, cmd, now)

	var ev protocol.Event
	if err != nil {
		ce := protocol.CodeOf(err)
		ev = actionResult(now, cmd.ID, false, ce, err.Error())
	} else {
		ev = actionResult(now, cmd.ID, true, "", "")
		for k, v := range result {
			ev[k] = v
		}
	}
	e.sendTo(env.SessionID, ev)
	if len(extra) > 0 {
		e.broadcast(extra...)
	}

	if e.auditLogger != nil {
		_ = e.auditLogger.WriteAudit(AuditEntry{
			At:      now,
			Player:  env.PlayerID,
			Session: env.SessionID,
			Op:      cmd.Op,
			Ref:     cmd.ID,
			Asset:   cmd.Asset,
			Mine:    cmd.Mine,
			Tier:    cmd.Tier,
			Amount:  cmd.Amount,
			To:      cmd.To,
			OK:      err == nil,
			Code:    protocol.CodeOf(err),
		})
	}
}

// dispatch applies one command and returns extra ACTION_RESULT fields for
// the issuer plus any events to broadcast to every session.
func (e *Engine) dispatch(player string, cmd protocol.CmdMsg, now time.Time) (protocol.Event, []protocol.Event, error) {
	switch cmd.Op {
	case protocol.OpApprove:
		tok, err := e.wallet(cmd.Asset)
		if err != nil {
			return nil, nil, err
		}
		spender := cmd.To
		if spender == "" {
			spender = e.bank.ID()
		}
		if err := tok.Approve(player, spender, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return protocol.Event{"spender": spender}, nil, nil

	case protocol.OpTransfer:
		tok, err := e.wallet(cmd.Asset)
		if err != nil {
			return nil, nil, err
		}
		if cmd.To == "" {
			return nil, nil, protocol.Errf(protocol.ErrBadRequest, "missing to")
		}
		if err := tok.Transfer(player, cmd.To, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil

	case protocol.OpDeposit:
		a, err := e.asset(cmd.Asset)
		if err != nil {
			return nil, nil, err
		}
		if err := e.bank.Deposit(player, a, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return protocol.Event{"balance": e.bank.Balance(player, cmd.Asset)}, nil, nil

	case protocol.OpWithdraw:
		a, err := e.asset(cmd.Asset)
		if err != nil {
			return nil, nil, err
		}
		if err := e.bank.Withdraw(player, a, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return protocol.Event{
			"balance":  e.bank.Balance(player, cmd.Asset),
			"returned": cmd.Amount - cmd.Amount/int64(e.cfg.Tune.WithdrawTaxDivisor),
		}, nil, nil

	case protocol.OpSeize:
		m, err := e.mines.Get(cmd.Mine)
		if err != nil {
			return nil, nil, err
		}
		entry, err := m.Seize(player, cmd.Tier, now)
		if err != nil {
			return nil, nil, err
		}
		battle := battleEvent(now, m.ID(), entry)
		return protocol.Event{"won": entry.AttackerWon, "battle": battle}, []protocol.Event{battle}, nil

	case protocol.OpClaim:
		m, err := e.mines.Get(cmd.Mine)
		if err != nil {
			return nil, nil, err
		}
		amount, err := m.ClaimResources(player, now)
		if err != nil {
			return nil, nil, err
		}
		return protocol.Event{"amount": amount, "asset": m.Resource().ID()}, nil, nil

	case protocol.OpBoost:
		m, err := e.mines.Get(cmd.Mine)
		if err != nil {
			return nil, nil, err
		}
		if err := m.ActivateDefenseBoost(player, now); err != nil {
			return nil, nil, err
		}
		return protocol.Event{"boost_until": m.BoostExpiry().Unix()}, nil, nil

	case protocol.OpAbandon:
		m, err := e.mines.Get(cmd.Mine)
		if err != nil {
			return nil, nil, err
		}
		if err := m.Abandon(player, now); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	return nil, nil, protocol.Errf(protocol.ErrBadRequest, "unknown op "+cmd.Op)
}

func battleEvent(now time.Time, mineID string, entry mine.BattleEntry) protocol.Event {
	return protocol.Event{
		"at":             now.Unix(),
		"type":           "BATTLE",
		"mine":           mineID,
		"attacker":       entry.Attacker,
		"prev_owner":     entry.PrevOwner,
		"attacker_tier":  entry.AttackerTier,
		"attacker_force": entry.AttackerForce,
		"defender_tier":  entry.DefenderTier,
		"defender_force": entry.DefenderForce,
		"attacker_loss":  entry.AttackerLoss,
		"defender_loss":  entry.DefenderLoss,
		"attacker_won":   entry.AttackerWon,
	}
}

// wallet resolves an asset id to the concrete token for wallet-side ops.
func (e *Engine) wallet(id string) (*token.Token, error) {
	tok := e.toks[id]
	if tok == nil {
		return nil, protocol.Errf(protocol.ErrAssetUnknown, "no asset "+id)
	}
	return tok, nil
}

func (e *Engine) asset(id string) (token.Asset, error) {
	a := e.assets.Asset(id)
	if a == nil {
		return nil, protocol.Errf(protocol.ErrAssetUnknown, "no asset "+id)
	}
	return a, nil
}
