package game

// Store holds every live room plus the connection -> room reverse index.
// It is a plain container: callers are expected to serialize access through
// the owning Service. Injecting a fresh Store per test keeps sessions from
// leaking between cases.
type Store struct {
	rooms     map[string]*Room
	connRooms map[string]string // connID -> roomID
}

func NewStore() *Store {
	return &Store{
		rooms:     make(map[string]*Room),
		connRooms: make(map[string]string),
	}
}

// Get returns the room or nil when the id is unknown.
func (s *Store) Get(roomID string) *Room {
	return s.rooms[roomID]
}

// GetOrCreate resolves the room, creating it lazily on first join.
func (s *Store) GetOrCreate(roomID string) *Room {
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID)
	s.rooms[roomID] = r
	return r
}

// RoomOf resolves the room a connection joined, or nil.
func (s *Store) RoomOf(connID string) *Room {
	roomID, ok := s.connRooms[connID]
	if !ok {
		return nil
	}
	return s.rooms[roomID]
}

func (s *Store) bindConn(connID, roomID string) {
	s.connRooms[connID] = roomID
}

func (s *Store) unbindConn(connID string) {
	delete(s.connRooms, connID)
}

// Len reports how many rooms exist; rooms are never evicted before exit.
func (s *Store) Len() int {
	return len(s.rooms)
}
