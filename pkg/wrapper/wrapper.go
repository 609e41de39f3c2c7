package wrapper

type JSONResult struct {
	Code    int               `json:"-"`
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func ResponseSuccess(httpCode int, data interface{}) JSONResult {
	return JSONResult{
		Code:    httpCode,
		Success: true,
		Message: "Success",
		Data:    data,
	}
}

func ResponseFailed(httpCode int, message string, data interface{}) JSONResult {
	return JSONResult{
		Code:    httpCode,
		Success: false,
		Message: message,
		Data:    data,
	}
}

// ResponseInvalid reports per-field validation failures.
func ResponseInvalid(httpCode int, fields map[string]string) JSONResult {
	return JSONResult{
		Code:    httpCode,
		Success: false,
		Message: "Validation failed",
		Errors:  fields,
	}
}
