package scanner

import "time"

// SetClock reemplaza el reloj del scanner en tests.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }
