package model

import "time"

// RoomType controls which message kinds a room accepts.
type RoomType string

const (
    RoomTypeText       RoomType = "TEXT"
    RoomTypeMultimedia RoomType = "MULTIMEDIA"
)

// Room represents a row in the `rooms` table.  CurrentUsers is a
// denormalized count of active sessions kept next to MaxUsers so the
// admission path can decide capacity from a single locked row.
//
// Fields:
//  ID            – primary key.
//  Code          – unique, human-shareable room code (e.g. ROOM3FA91C).
//  PinHash       – bcrypt hash of the room PIN; the plain PIN is never stored.
//  MaxUsers      – capacity, at least 2.
//  CurrentUsers  – live occupancy, mutated only by join/leave/disconnect.
//  IsActive      – soft-disable flag; inactive rooms reject joins.
//  DeletedAt     – soft-delete timestamp, nil while the room exists.
type Room struct {
    ID            uint64     // rooms.id
    Code          string     // rooms.room_code
    Name          string     // rooms.name
    Description   string     // rooms.description
    Type          RoomType   // rooms.type
    PinHash       string     // rooms.pin_hash
    MaxUsers      int        // rooms.max_users
    CurrentUsers  int        // rooms.current_users
    MaxFileSizeMB int        // rooms.max_file_size_mb
    IsActive      bool       // rooms.is_active
    CreatorID     uint64     // rooms.creator_id
    CreatedAt     time.Time  // rooms.created_at
    UpdatedAt     time.Time  // rooms.updated_at
    DeletedAt     *time.Time // rooms.deleted_at (nullable)
}

// IsFull reports whether no further session can be admitted.
func (r Room) IsFull() bool { return r.CurrentUsers >= r.MaxUsers }

// IsDeleted reports whether the room has been soft-deleted.
func (r Room) IsDeleted() bool { return r.DeletedAt != nil }
