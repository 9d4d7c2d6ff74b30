package contract

const (
	// Write functions
	FunctionDepositFunds        = "depositFunds"
	FunctionCompleteRequirement = "completeRequirement"
	FunctionCancelContract      = "cancelContract"
	FunctionEmergencyWithdraw   = "emergencyWithdraw"

	// View functions
	FunctionGetContractInfo    = "getContractInfo"
	FunctionGetAllRequirements = "getAllRequirements"
	FunctionGetRequirement     = "getRequirement"
	FunctionGetProgress        = "getProgress"
	FunctionCanComplete        = "canComplete"
	FunctionGetSummary         = "getSummary"
	FunctionState              = "state"

	// Custom errors
	ErrorUnauthorized        = "Unauthorized"
	ErrorInvalidState        = "InvalidState"
	ErrorInvalidAmount       = "InvalidAmount"
	ErrorRequirementNotFound = "RequirementNotFound"
	ErrorAlreadyCompleted    = "AlreadyCompleted"
	ErrorInvalidParty        = "InvalidParty"
	ErrorInvalidRequirements = "InvalidRequirements"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Gas safety margins in percent of the estimate
	DeployGasMarginPercent = 120
	CallGasMarginPercent   = 110
)

// Legacy revert reasons emitted by the first deployed version of the agreement
// contract, which used require strings instead of custom errors.
const (
	legacyOnlyPayer          = "Solo Empresa1 puede ejecutar esta funcion"
	legacyOnlyArbiter        = "Solo el arbitro puede ejecutar esta funcion"
	legacyInvalidAmount      = "El monto debe ser mayor a 0"
	legacyAlreadyCompleted   = "Requerimiento ya completado"
	legacyCannotCancel       = "No se puede cancelar en este estado"
	legacyInvalidIndex       = "ID de requerimiento invalido"
	legacyInvalidPayer       = "Direccion de Empresa1 invalida"
	legacyInvalidBeneficiary = "Direccion de Empresa2 invalida"
	legacySameParty          = "Las empresas deben ser diferentes"
	legacyNoRequirements     = "Debe haber al menos un requerimiento"
	legacyOnlyCancelled      = "Solo disponible en estado cancelado"
)

// ABI is the interface of the escrow agreement contract
var ABI = []byte(`[
	{
		"type": "constructor",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "payer", "type": "address"},
			{"name": "beneficiary", "type": "address"},
			{"name": "requirements", "type": "string[]"}
		]
	},
	{
		"type": "function",
		"name": "depositFunds",
		"stateMutability": "payable",
		"inputs": [],
		"outputs": []
	},
	{
		"type": "function",
		"name": "completeRequirement",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "requirementId", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "cancelContract",
		"stateMutability": "nonpayable",
		"inputs": [],
		"outputs": []
	},
	{
		"type": "function",
		"name": "emergencyWithdraw",
		"stateMutability": "nonpayable",
		"inputs": [],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getContractInfo",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "arbiter", "type": "address"},
			{"name": "payer", "type": "address"},
			{"name": "beneficiary", "type": "address"},
			{"name": "depositedAmount", "type": "uint256"},
			{"name": "state", "type": "uint8"},
			{"name": "totalRequirements", "type": "uint256"},
			{"name": "completedCount", "type": "uint256"},
			{"name": "balance", "type": "uint256"},
			{"name": "createdAt", "type": "uint256"},
			{"name": "completedAt", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "getAllRequirements",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "descriptions", "type": "string[]"},
			{"name": "completed", "type": "bool[]"},
			{"name": "completedTimes", "type": "uint256[]"}
		]
	},
	{
		"type": "function",
		"name": "getRequirement",
		"stateMutability": "view",
		"inputs": [{"name": "requirementId", "type": "uint256"}],
		"outputs": [
			{"name": "description", "type": "string"},
			{"name": "completed", "type": "bool"},
			{"name": "completedAt", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "getProgress",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "canComplete",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "getSummary",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "state", "type": "uint8"},
			{"name": "progress", "type": "uint256"},
			{"name": "balance", "type": "uint256"},
			{"name": "total", "type": "uint256"},
			{"name": "completed", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "state",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}]
	},
	{
		"type": "event",
		"name": "FundsDeposited",
		"anonymous": false,
		"inputs": [
			{"name": "payer", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "RequirementCompleted",
		"anonymous": false,
		"inputs": [
			{"name": "requirementId", "type": "uint256", "indexed": true},
			{"name": "description", "type": "string", "indexed": false},
			{"name": "arbiter", "type": "address", "indexed": true},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ContractCompleted",
		"anonymous": false,
		"inputs": [
			{"name": "beneficiary", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ContractCancelled",
		"anonymous": false,
		"inputs": [
			{"name": "refundedTo", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	},
	{"type": "error", "name": "Unauthorized", "inputs": [{"name": "caller", "type": "address"}]},
	{"type": "error", "name": "InvalidState", "inputs": [{"name": "current", "type": "uint8"}]},
	{"type": "error", "name": "InvalidAmount", "inputs": []},
	{"type": "error", "name": "RequirementNotFound", "inputs": [{"name": "requirementId", "type": "uint256"}]},
	{"type": "error", "name": "AlreadyCompleted", "inputs": [{"name": "requirementId", "type": "uint256"}]},
	{"type": "error", "name": "InvalidParty", "inputs": []},
	{"type": "error", "name": "InvalidRequirements", "inputs": [{"name": "count", "type": "uint256"}]}
]`)
