package protocol

import "fmt"

// LoginResult is the type byte of a LoginResponse.
type LoginResult byte

const (
	LoginOK   LoginResult = 0
	LoginFail LoginResult = 1
)

// String returns the string representation of LoginResult.
func (r LoginResult) String() string {
	switch r {
	case LoginOK:
		return "ok"
	case LoginFail:
		return "fail"
	default:
		return fmt.Sprintf("unknown(%d)", byte(r))
	}
}

// AuthGG authenticates the client with the session id handed out by Init.
// Format: [sessionId:4][platform:str][memoryMB:4][deviceName:str]
type AuthGG struct {
	SessionID    int32
	Platform     string
	MemorySizeMB int32
	DeviceName   string
}

// Opcode implements ClientPacket.
func (p *AuthGG) Opcode() byte { return OpAuthGG }

// Write implements ClientPacket.
func (p *AuthGG) Write(w *Writer) error {
	w.WriteInt32(p.SessionID)
	if err := w.WriteString(p.Platform); err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	w.WriteInt32(p.MemorySizeMB)
	if err := w.WriteString(p.DeviceName); err != nil {
		return fmt.Errorf("device name: %w", err)
	}
	return nil
}

// Read decodes an AuthGG payload.
func (p *AuthGG) Read(r *Reader) error {
	var err error
	if p.SessionID, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("failed to parse auth session id: %w", err)
	}
	if p.Platform, err = r.ReadString(); err != nil {
		return fmt.Errorf("failed to parse auth platform: %w", err)
	}
	if p.MemorySizeMB, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("failed to parse auth memory size: %w", err)
	}
	if p.DeviceName, err = r.ReadString(); err != nil {
		return fmt.Errorf("failed to parse auth device name: %w", err)
	}
	return nil
}

// Init assigns the session id for this connection.
// Format: [sessionId:4]
type Init struct {
	SessionID int32
}

// Opcode implements ClientPacket.
func (p *Init) Opcode() byte { return OpInit }

// Write implements ClientPacket.
func (p *Init) Write(w *Writer) error {
	w.WriteInt32(p.SessionID)
	return nil
}

// Read decodes an Init payload.
func (p *Init) Read(r *Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to parse init session id: %w", err)
	}
	p.SessionID = id
	return nil
}

// LoginResponse reports the outcome of authentication.
// Format: [type:1] followed by [message:str] when type is LoginFail.
type LoginResponse struct {
	Result  LoginResult
	Message string
}

// Opcode implements ClientPacket.
func (p *LoginResponse) Opcode() byte { return OpLoginResponse }

// Write implements ClientPacket.
func (p *LoginResponse) Write(w *Writer) error {
	w.WriteByte(byte(p.Result))
	if p.Result == LoginFail {
		return w.WriteString(p.Message)
	}
	return nil
}

// Read decodes a LoginResponse payload.
func (p *LoginResponse) Read(r *Reader) error {
	t, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to parse login response type: %w", err)
	}
	p.Result = LoginResult(t)
	p.Message = ""

	switch p.Result {
	case LoginOK:
	case LoginFail:
		if p.Message, err = r.ReadString(); err != nil {
			return fmt.Errorf("failed to parse login failure message: %w", err)
		}
	default:
		return fmt.Errorf("unknown login response type %d", t)
	}
	return nil
}
