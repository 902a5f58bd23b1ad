package model

// Principal 当前认证用户, 由身份服务签发, 只读
type Principal struct {
	Id            string `json:"id"`
	DisplayName   string `json:"display_name"`
	WalletAddress string `json:"wallet_address"`
}

// HasWallet 是否绑定钱包
func (p *Principal) HasWallet() bool {
	return p != nil && p.WalletAddress != ""
}
