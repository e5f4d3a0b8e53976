package request

import (
	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// MapBinder is implemented by request types that can be built from the merged
// request data.
type MapBinder interface {
	BindMap(data map[string]any) error
}

// Merge flattens headers, query and JSON body into one mapping. Later sources
// win: body over query over headers. An unparsable body contributes nothing.
func Merge(req types.Request) map[string]any {
	headers := req.Headers()
	query := req.Query()
	body, _ := utils.DecodeObject(req.Body())

	merged := make(map[string]any, len(headers)+len(query)+len(body))
	for k, v := range headers {
		merged[k] = v
	}
	for k, v := range query {
		merged[k] = v
	}
	for k, v := range body {
		merged[k] = v
	}

	return merged
}

// Decode copies data into target through its JSON field names. It is the
// usual body of a BindMap implementation.
func Decode(data map[string]any, target any) error {
	raw, err := utils.Marshal(data)
	if err != nil {
		return types.Errorf(types.ErrBinding, "encode request data: %v", err)
	}

	if err := sonic.ConfigDefault.Unmarshal(raw, target); err != nil {
		return types.Errorf(types.ErrBinding, "decode request data: %v", err)
	}

	return nil
}
