package chain

const RegistryABI = `[
	{
		"type": "function",
		"name": "predictAddress",
		"stateMutability": "view",
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "bytes32", "name": "depositId", "type": "bytes32"},
			{"internalType": "uint128", "name": "action", "type": "uint128"},
			{"internalType": "int128", "name": "amountLow", "type": "int128"},
			{"internalType": "int128", "name": "amountHigh", "type": "int128"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "address", "name": "target", "type": "address"}
		],
		"outputs": [
			{"internalType": "address", "name": "vault", "type": "address"}
		]
	},
	{
		"type": "function",
		"name": "deployVault",
		"stateMutability": "nonpayable",
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "bytes32", "name": "depositId", "type": "bytes32"},
			{"internalType": "uint128", "name": "action", "type": "uint128"},
			{"internalType": "int128", "name": "amountLow", "type": "int128"},
			{"internalType": "int128", "name": "amountHigh", "type": "int128"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "address", "name": "target", "type": "address"}
		],
		"outputs": [
			{"internalType": "address", "name": "vault", "type": "address"}
		]
	}
]`

// TokenABI describes the balance query of the deposit tokens. The balance is
// returned as two 128-bit words, low first.
const TokenABI = `[
	{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"outputs": [
			{"internalType": "uint128", "name": "low", "type": "uint128"},
			{"internalType": "uint128", "name": "high", "type": "uint128"}
		]
	}
]`
