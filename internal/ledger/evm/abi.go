package evm

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 合约方法名
const (
	methodNextGameID    = "nextGameId"
	methodGames         = "games"
	methodDetailedState = "getDetailedGameState"
	methodActiveGames   = "getActiveGames"
	methodPlayerState   = "getPlayerState"
	methodCardInstance  = "getCardInstance"
	methodCard          = "getCard"
	methodCreateGame    = "createGame"
	methodJoinGame      = "joinGame"
	methodStartGame     = "startGame"
	methodPlayCard      = "playCard"
	methodStakeETH      = "stakeETH"
	methodDepositETH    = "depositETH"
	eventGameCreated    = "GameCreated"
)

// games 与 getDetailedGameState 的输出顺序和 decoder/layouts.yaml 中 raw、summary 一致
const contractABI = `[
  {"type":"function","name":"nextGameId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"games","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"player1","type":"address"},
     {"name":"player2","type":"address"},
     {"name":"player1Deck","type":"uint256"},
     {"name":"player2Deck","type":"uint256"},
     {"name":"started","type":"bool"},
     {"name":"finished","type":"bool"},
     {"name":"activePlayer","type":"address"},
     {"name":"turn","type":"uint256"}]},
  {"type":"function","name":"getDetailedGameState","stateMutability":"view","inputs":[{"name":"gameId","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"player1","type":"address"},
     {"name":"player2","type":"address"},
     {"name":"creator","type":"address"},
     {"name":"activePlayer","type":"address"},
     {"name":"turn","type":"uint256"}]},
  {"type":"function","name":"getActiveGames","stateMutability":"view","inputs":[{"name":"limit","type":"uint256"}],
   "outputs":[
     {"name":"ids","type":"uint256[]"},
     {"name":"creators","type":"address[]"},
     {"name":"statuses","type":"uint8[]"}]},
  {"type":"function","name":"getPlayerState","stateMutability":"view",
   "inputs":[{"name":"gameId","type":"uint256"},{"name":"player","type":"address"}],
   "outputs":[
     {"name":"eth","type":"uint256"},
     {"name":"hand","type":"uint256[]"},
     {"name":"board","type":"uint256[]"}]},
  {"type":"function","name":"getCardInstance","stateMutability":"view","inputs":[{"name":"instanceId","type":"uint256"}],
   "outputs":[
     {"name":"cardId","type":"uint256"},
     {"name":"heldETH","type":"uint256"},
     {"name":"stakedETH","type":"uint256"},
     {"name":"yieldAmount","type":"uint256"}]},
  {"type":"function","name":"getCard","stateMutability":"view","inputs":[{"name":"cardId","type":"uint256"}],
   "outputs":[
     {"name":"name","type":"string"},
     {"name":"cardType","type":"uint8"},
     {"name":"cost","type":"uint256"},
     {"name":"power","type":"uint256"},
     {"name":"toughness","type":"uint256"}]},
  {"type":"function","name":"createGame","stateMutability":"nonpayable","inputs":[{"name":"deckId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"joinGame","stateMutability":"nonpayable",
   "inputs":[{"name":"gameId","type":"uint256"},{"name":"deckId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"startGame","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"playCard","stateMutability":"nonpayable",
   "inputs":[{"name":"gameId","type":"uint256"},{"name":"handIndex","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"stakeETH","stateMutability":"nonpayable",
   "inputs":[{"name":"gameId","type":"uint256"},{"name":"instanceId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"depositETH","stateMutability":"nonpayable",
   "inputs":[{"name":"gameId","type":"uint256"},{"name":"instanceId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"GameCreated","anonymous":false,
   "inputs":[{"name":"gameId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true}]}
]`

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
)

// ContractABI 解析后的合约 ABI
func ContractABI() abi.ABI {
	parsedOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(contractABI))
		if err != nil {
			panic("evm: invalid contract abi: " + err.Error())
		}
		parsedABI = parsed
	})
	return parsedABI
}
