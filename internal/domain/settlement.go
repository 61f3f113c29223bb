package domain

// RoundSummary aggregates the ledger rows of one game round.
type RoundSummary struct {
	RoundID       string        `json:"round_id"`
	TotalBet      int64         `json:"total_bet"`
	TotalWin      int64         `json:"total_win"`
	BetCount      int           `json:"bet_count"`
	WinCount      int           `json:"win_count"`
	ReversalCount int           `json:"reversal_count"`
	Voided        bool          `json:"voided"`
	Transactions  []Transaction `json:"transactions"`
}
