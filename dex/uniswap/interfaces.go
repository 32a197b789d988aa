package uniswap

// Router contract ABI (getAmountsOut only)
const routerABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Factory contract ABI (getPair only)
const factoryABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "tokenA", "type": "address"},
		{"name": "tokenB", "type": "address"}
	],
	"name": "getPair",
	"outputs": [{"name": "pair", "type": "address"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Pair contract ABI (getReserves only)
const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`
