package container

// Deps holds the dependencies resolved for one middleware invocation.
type Deps map[string]any

func ResolveAll(r Resolver, keys []AnyKey) (Deps, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	deps := make(Deps, len(keys))
	for _, key := range keys {
		value, err := r.Resolve(key.Name())
		if err != nil {
			return nil, err
		}
		deps[key.Name()] = value
	}

	return deps, nil
}

func Dep[T any](deps Deps, key Key[T]) T {
	value, _ := deps[key.name].(T)
	return value
}

func Keys(keys ...AnyKey) []AnyKey {
	return keys
}
