package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobInfo, 0, len(s.jobs))
	for i, j := range s.jobs {
		st := s.state[i]
		items = append(items, JobInfo{
			Name:           j.Name,
			Every:          j.Every,
			Fires:          st.fires,
			DispatchErrors: st.dispErrors,
			LastFired:      st.lastFired,
			NextDue:        st.nextDue,
		})
	}
	return Snapshot{Jobs: items}
}
