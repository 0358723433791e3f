package modelhost

// ActiveConns returns the number of connections with a running handler.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
