package badger

// NewMemoryIndex opens an in-memory backend with an index on top. Close the
// index before the backend.
func NewMemoryIndex() (*IndexRepository, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}
	index, err := NewIndexRepository(backend)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return index, backend, nil
}
