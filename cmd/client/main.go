// Command client is the interactive terminal client for Confab.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmhart/confab/pkg/protocol"
	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

type mode int

const (
	modeMenu mode = iota
	modePickTarget  // choosing a chat target from the user list
	modePickGroup   // entering group targets
	modePickName    // entering a new username
	modeAwaitStart  // chat or group requested, waiting for the outcome
	modeInviteReply // incoming invite, waiting for y/n
	modeChat
	modeGroup
)

type app struct {
	ep        *protocol.ConnEndpoint
	stdin     chan string
	server    chan *pb.Message
	downloads string

	mode     mode
	username string
	peer     string // chat peer or pending inviter
	groupID  string

	pendingGroupInvite bool // whether the pending invite is a group invite
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9620", "server address")
	downloads := flag.String("downloads", "downloads", "directory for received files")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	a := &app{
		ep:        protocol.NewConnEndpoint(conn),
		stdin:     make(chan string),
		server:    make(chan *pb.Message),
		downloads: *downloads,
	}
	defer a.ep.Close()

	if err := a.authenticate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println("Connected to server.")

	go a.readStdin()
	go a.readServer()
	a.run()
	fmt.Println("Disconnected.")
}

// authenticate answers the server's login-or-signup prompts until a
// username is accepted.
func (a *app) authenticate() error {
	sc := bufio.NewScanner(os.Stdin)
	prompt := func(label string) (string, error) {
		fmt.Print(label)
		if !sc.Scan() {
			return "", fmt.Errorf("stdin closed")
		}
		return strings.TrimSpace(sc.Text()), nil
	}

	for {
		msg, err := a.ep.Receive()
		if err != nil {
			return fmt.Errorf("server closed the connection: %w", err)
		}
		switch {
		case msg.LoginOrSignup != nil:
			m, err := prompt("login or signup? ")
			if err != nil {
				return err
			}
			name, err := prompt("username: ")
			if err != nil {
				return err
			}
			if err := a.ep.Send(&pb.Message{Credentials: &pb.Credentials{Mode: m, Username: name}}); err != nil {
				return err
			}
		case msg.UsernameAccepted != nil:
			a.username = msg.UsernameAccepted.Username
			return nil
		case msg.InvalidUsername != nil:
			fmt.Println("Username must be 1-32 alphanumeric characters.")
		case msg.SignupFailed != nil:
			fmt.Println("Signup failed:", msg.SignupFailed.Message)
		case msg.LoginFailed != nil:
			fmt.Println("Login failed:", msg.LoginFailed.Message)
		case msg.Error != nil:
			fmt.Println("Error:", msg.Error.Message)
		}
	}
}

func (a *app) readStdin() {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		a.stdin <- sc.Text()
	}
	close(a.stdin)
}

func (a *app) readServer() {
	defer close(a.server)
	for {
		msg, err := a.ep.Receive()
		if err != nil {
			return
		}
		a.server <- msg
	}
}

func (a *app) run() {
	a.showMenu()
	for {
		select {
		case line, ok := <-a.stdin:
			if !ok {
				a.sendExit()
				return
			}
			if exit := a.handleInput(strings.TrimSpace(line)); exit {
				a.sendExit()
				return
			}
		case msg, ok := <-a.server:
			if !ok {
				return
			}
			a.handleServer(msg)
		}
	}
}

func (a *app) sendExit() {
	_ = a.ep.Send(&pb.Message{Exit: &pb.Exit{}})
}

func (a *app) showMenu() {
	fmt.Printf("\n--- %s ---\n", a.username)
	fmt.Println("1. Show users")
	fmt.Println("2. Chat with someone")
	fmt.Println("3. Start a group chat")
	fmt.Println("4. Change username")
	fmt.Println("5. Exit")
	fmt.Print("Choice [1-5]: ")
}

func (a *app) backToMenu() {
	a.mode = modeMenu
	a.showMenu()
}

func (a *app) handleInput(line string) (exit bool) {
	switch a.mode {
	case modeMenu:
		switch line {
		case "1":
			_ = a.ep.Send(&pb.Message{ShowUsers: &pb.ShowUsers{}})
		case "2":
			a.mode = modePickTarget
			fmt.Print("Chat with: ")
		case "3":
			a.mode = modePickGroup
			fmt.Print("Invite (comma-separated usernames): ")
		case "4":
			a.mode = modePickName
			fmt.Print("New username: ")
		case "5":
			return true
		default:
			a.showMenu()
		}

	case modePickTarget:
		if line == "" {
			a.backToMenu()
			break
		}
		a.mode = modeAwaitStart
		_ = a.ep.Send(&pb.Message{ChatRequest: &pb.ChatRequest{Target: line}})
		fmt.Printf("Waiting for %s...\n", line)

	case modePickGroup:
		var targets []string
		for _, t := range strings.Split(line, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
		if len(targets) == 0 {
			a.backToMenu()
			break
		}
		a.mode = modeAwaitStart
		_ = a.ep.Send(&pb.Message{GroupChatRequest: &pb.GroupChatRequest{Targets: targets}})
		fmt.Println("Waiting for everyone to accept...")

	case modePickName:
		if line == "" {
			a.backToMenu()
			break
		}
		a.mode = modeMenu
		_ = a.ep.Send(&pb.Message{Rename: &pb.Rename{NewUsername: line}})

	case modeInviteReply:
		accept := strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
		if a.pendingGroupInvite {
			if accept {
				_ = a.ep.Send(&pb.Message{GroupAccepted: &pb.GroupAccepted{}})
				a.mode = modeAwaitStart
			} else {
				_ = a.ep.Send(&pb.Message{GroupDeclined: &pb.GroupDeclined{}})
				a.backToMenu()
			}
		} else {
			if accept {
				_ = a.ep.Send(&pb.Message{ChatAccepted: &pb.ChatAccepted{}})
				a.mode = modeAwaitStart
			} else {
				_ = a.ep.Send(&pb.Message{ChatDeclined: &pb.ChatDeclined{}})
				a.backToMenu()
			}
		}

	case modeChat:
		switch {
		case line == pb.LeaveSentinel:
			_ = a.ep.Send(&pb.Message{ChatMsg: &pb.ChatMessage{Text: pb.LeaveSentinel}})
			fmt.Println("[Chat ended. Returning to menu.]")
			a.backToMenu()
		case strings.HasPrefix(line, "/send "):
			a.sendFile(strings.TrimSpace(strings.TrimPrefix(line, "/send ")))
		case line != "":
			_ = a.ep.Send(&pb.Message{ChatMsg: &pb.ChatMessage{Text: line}})
		}

	case modeGroup:
		switch {
		case line == pb.LeaveSentinel:
			_ = a.ep.Send(&pb.Message{GroupMsg: &pb.GroupMessage{Text: pb.LeaveSentinel}})
		case line != "":
			_ = a.ep.Send(&pb.Message{GroupMsg: &pb.GroupMessage{Text: line}})
		}

	case modeAwaitStart:
		// Outcome pending; swallow stray input.
	}
	return false
}

func (a *app) handleServer(msg *pb.Message) {
	switch {
	case msg.UserList != nil:
		if len(msg.UserList.Users) == 0 {
			fmt.Println("\nNo one else is online.")
		} else {
			fmt.Println("\nOnline users:", strings.Join(msg.UserList.Users, ", "))
		}
		if a.mode == modeMenu {
			a.showMenu()
		}

	case msg.ChatInvite != nil:
		a.peer = msg.ChatInvite.From
		a.pendingGroupInvite = false
		a.mode = modeInviteReply
		fmt.Printf("\n[Incoming chat request from %s]\nAccept? (y/n): ", a.peer)

	case msg.GroupInvite != nil:
		a.peer = msg.GroupInvite.From
		a.pendingGroupInvite = true
		a.mode = modeInviteReply
		fmt.Printf("\n[%s invites you to a group chat with %s]\nAccept? (y/n): ",
			a.peer, strings.Join(msg.GroupInvite.Members, ", "))

	case msg.ChatStarted != nil:
		a.peer = msg.ChatStarted.With
		a.mode = modeChat
		fmt.Printf("[Chat with %s started. Type '#' to leave, '/send <path>' to send a file.]\n", a.peer)

	case msg.GroupStarted != nil:
		a.groupID = msg.GroupStarted.GroupID
		a.mode = modeGroup
		fmt.Printf("[Group %s started with %s. Type '#' to leave.]\n",
			a.groupID, strings.Join(msg.GroupStarted.Members, ", "))

	case msg.ChatMsg != nil:
		fmt.Printf("[%s] %s\n", msg.ChatMsg.From, msg.ChatMsg.Text)

	case msg.GroupMsg != nil:
		fmt.Printf("[%s] %s\n", msg.GroupMsg.From, msg.GroupMsg.Text)

	case msg.FileTransfer != nil:
		a.saveFile(msg.FileTransfer)

	case msg.ChatEnded != nil:
		// Acknowledge so the server can retire our relay direction.
		_ = a.ep.Send(&pb.Message{ChatEnded: &pb.ChatEnded{}})
		fmt.Println("\n[Chat ended. Returning to menu.]")
		a.backToMenu()

	case msg.GroupLeft != nil:
		fmt.Println("\n[Left the group. Returning to menu.]")
		a.backToMenu()

	case msg.GroupDeclined != nil:
		fmt.Println("\nGroup chat failed:", msg.GroupDeclined.Message)
		a.backToMenu()

	case msg.UsernameChanged != nil:
		a.username = msg.UsernameChanged.NewUsername
		fmt.Println("Username updated:", a.username)
		a.showMenu()

	case msg.Error != nil:
		fmt.Println("Error:", msg.Error.Message)
		if a.mode == modeAwaitStart || a.mode == modeMenu {
			a.backToMenu()
		}
	}
}

func (a *app) sendFile(path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path typed by the user
	if err != nil {
		fmt.Println("Could not read file:", err)
		return
	}
	msg := &pb.Message{FileTransfer: &pb.FileTransfer{
		Filename: filepath.Base(path),
		Payload:  data,
	}}
	if err := a.ep.Send(msg); err != nil {
		fmt.Println("Could not send file:", err)
		return
	}
	fmt.Printf("[Sent %s (%d bytes)]\n", filepath.Base(path), len(data))
}

func (a *app) saveFile(ft *pb.FileTransfer) {
	if err := os.MkdirAll(a.downloads, 0o755); err != nil {
		fmt.Println("Could not create download directory:", err)
		return
	}
	name := filepath.Base(ft.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "unnamed"
	}
	dst := filepath.Join(a.downloads, name)
	if err := os.WriteFile(dst, ft.Payload, 0o644); err != nil {
		fmt.Println("Could not save file:", err)
		return
	}
	fmt.Printf("[%s sent a file, saved to %s (%d bytes)]\n", ft.From, dst, len(ft.Payload))
}
