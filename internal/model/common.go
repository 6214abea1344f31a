package model

// Response 通用响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ListResponse 列表响应
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}
