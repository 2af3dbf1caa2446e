package server

type pageQuery struct {
	Limit  int `json:"limit" validate:"min=0,max=1000"`
	Offset int `json:"offset" validate:"min=0"`
}
