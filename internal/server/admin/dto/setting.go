package dto

type SetSettingRequest struct {
	Value string `json:"value" validate:"required,max=1024"`
}

type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
