package natsgw

// 账本网关 Subject 后缀，完整格式: {prefix}.{suffix}
const (
	DefaultSubjectPrefix = "cardgame.ledger"

	SubjectGameSummary = "game.summary"
	SubjectGameRaw     = "game.raw"
	SubjectGameFull    = "game.full"
	SubjectGameList    = "game.list"
	SubjectGameNextID  = "game.next_id"

	SubjectTxCreate   = "tx.create"
	SubjectTxJoin     = "tx.join"
	SubjectTxStart    = "tx.start"
	SubjectTxPlayCard = "tx.play_card"
	SubjectTxStake    = "tx.stake"
	SubjectTxDeposit  = "tx.deposit"
)

// BuildSubject 构建完整 Subject
func BuildSubject(prefix, suffix string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + suffix
}
