package pipeline

import (
	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/types"
)

var (
	InjectorKey     = NewKey[container.Resolver]("injector")
	RawRequestKey   = NewKey[types.Request]("raw_request")
	JWTTokenKey     = NewKey[string]("jwt_token")
	DecodedTokenKey = NewKey[types.Record]("decoded_token")
	SessionIDKey    = NewKey[string]("session_id")
	UserContextKey  = NewKey[types.Record]("user_context")
	OrgContextKey   = NewKey[types.Record]("org_context")
	SessionInfoKey  = NewKey[*types.SessionInfo]("session_info")
	CacheClientKey  = NewKey[types.SessionCache]("redis_client")
)
