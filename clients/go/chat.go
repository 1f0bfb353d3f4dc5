package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/carelink/internal/chat"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/realtime"
)

const chatHelp = `Type a message and press enter to send it.
  /file <path> [caption]  send an image, PDF or Word document
  /record                 start a voice recording
  /stop                   stop recording and hold it for review
  /play                   play back the held recording
  /send                   send the held recording
  /discard                discard the held recording
  /cancel                 abandon the current recording
  /clear                  clear your copy of the conversation
  /help                   show this help
  /quit                   leave the chat`

func chatCmd() *cobra.Command {
	var target chat.Target
	var micCommand, micType, player string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat",
		Long:  "Open an interactive chat with a doctor, patient or pharmacy.\n\n" + chatHelp,
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if target.ChatID == "" && target.CounterpartID == "" {
				return errors.New("one of --chat or --with is required")
			}
			st := a.sessions.Snapshot()
			if !st.Authenticated() {
				return errors.New("not signed in, run login first")
			}
			if !st.Role().Realtime() {
				return fmt.Errorf("chat is not available for the %s role", st.Role())
			}

			channel := realtime.NewManager(realtime.NewWebsocketDialer(a.cfg.SocketURL, a.logger), a.logger)
			defer channel.Close()
			if err := channel.Sync(ctx, st.Identity, st.Credential); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			ctrl := chat.NewController(a.client, channel, a.notices, nil, st.Identity.ID, a.logger)
			defer ctrl.Wait()
			defer ctrl.Close()

			if err := ctrl.Open(ctx, target); err != nil {
				return err
			}

			s := &chatSession{
				ctrl:   ctrl,
				selfID: st.Identity.ID,
				in:     bufio.NewScanner(os.Stdin),
				out:    os.Stdout,
				player: player,
			}
			if micCommand != "" {
				s.recorder = chat.NewRecorder(commandMicrophone(micCommand, micType), nil)
			}
			return s.run(ctx)
		}),
	}

	cmd.Flags().StringVar(&target.ChatID, "chat", "", "open an existing chat by id")
	cmd.Flags().StringVar(&target.CounterpartID, "with", "", "open the chat with this user id")
	cmd.Flags().StringVar(&target.Counterpart.Name, "name", "", "display name for the other participant")
	cmd.Flags().StringVar(&micCommand, "mic", "", "shell command that writes recorded audio to stdout")
	cmd.Flags().StringVar(&micType, "mic-type", "audio/webm", "content type of the --mic output")
	cmd.Flags().StringVar(&player, "player", "", "shell command that plays an audio file, e.g. \"mpv --really-quiet\"")
	return cmd
}

// chatSession drives one controller from terminal input.
type chatSession struct {
	ctrl     *chat.Controller
	recorder *chat.Recorder // nil without --mic
	pending  *chat.Recording
	player   string
	selfID   string
	in       *bufio.Scanner
	out      io.Writer

	mu     sync.Mutex
	shown  int
	typing bool
}

func (s *chatSession) run(ctx context.Context) error {
	view := s.ctrl.View()
	name := view.Counterpart.Name
	if name == "" {
		name = "chat " + view.ChatID
	}
	fmt.Fprintf(s.out, "Chatting with %s. /help for commands.\n", name)
	s.render(view)

	unsubscribe := s.ctrl.OnUpdate(s.render)
	defer unsubscribe()

	for s.in.Scan() {
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		name, arg := parseInput(line)
		switch name {
		case "":
			s.ctrl.Type(line)
			s.ctrl.SendText(ctx)
		case "file":
			s.sendFile(ctx, arg)
		case "record":
			s.startRecording(ctx)
		case "stop":
			s.stopRecording()
		case "play":
			s.playRecording(ctx)
		case "send":
			s.sendRecording(ctx)
		case "discard":
			if s.pending != nil {
				s.pending = nil
				fmt.Fprintln(s.out, "Recording discarded")
			}
		case "cancel":
			if s.recorder != nil && s.recorder.Recording() {
				s.recorder.Cancel()
				fmt.Fprintln(s.out, "Recording abandoned")
			}
		case "clear":
			s.ctrl.ClearHistory(ctx, s.confirm)
		case "help":
			fmt.Fprintln(s.out, chatHelp)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(s.out, "Unknown command /%s\n", name)
		}
	}
	return s.in.Err()
}

// parseInput splits "/cmd arg" input. Plain text yields an empty command;
// "//text" sends "/text" as a message.
func parseInput(line string) (name, arg string) {
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return "", line
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (s *chatSession) render(v chat.View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// History was cleared.
	if len(v.Messages) < s.shown {
		s.shown = 0
	}
	for _, m := range v.Messages[s.shown:] {
		fmt.Fprintln(s.out, formatMessage(m, s.selfID, v.Counterpart.Name))
	}
	s.shown = len(v.Messages)

	if v.CounterpartTyping != s.typing {
		s.typing = v.CounterpartTyping
		if s.typing {
			fmt.Fprintln(s.out, "  ... typing")
		}
	}
}

func formatMessage(m models.Message, selfID, counterpart string) string {
	who := m.Sender.Name
	switch {
	case m.Sender.ID == selfID:
		who = "you"
	case who == "":
		who = counterpart
	}
	if who == "" {
		who = m.Sender.ID
	}

	body := m.Content
	if m.Attachment != nil {
		label := m.Attachment.Filename
		if label == "" {
			label = m.Content
		}
		body = fmt.Sprintf("[%s] %s (%s) %s", m.Kind(), label, humanize.Bytes(uint64(m.Attachment.Size)), m.Attachment.URL)
		if m.Kind() == models.MessageImage && m.Content != "" && m.Content != label {
			body = m.Content + " " + body
		}
	}
	return fmt.Sprintf("%s  %s: %s", m.CreatedAt.Local().Format(time.Kitchen), who, body)
}

func (s *chatSession) sendFile(ctx context.Context, arg string) {
	path, caption, _ := strings.Cut(arg, " ")
	if path == "" {
		fmt.Fprintln(s.out, "Usage: /file <path> [caption]")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(s.out, "Cannot open %s: %v\n", path, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(s.out, "Cannot read %s: %v\n", path, err)
		return
	}

	if caption != "" {
		s.ctrl.Type(strings.TrimSpace(caption))
	}
	fmt.Fprintf(s.out, "Uploading %s (%s)\n", filepath.Base(path), humanize.Bytes(uint64(info.Size())))
	s.ctrl.SendAttachment(ctx, chat.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        info.Size(),
		Body:        f,
	})
}

func (s *chatSession) startRecording(ctx context.Context) {
	if s.recorder == nil {
		fmt.Fprintln(s.out, "No microphone configured, restart with --mic")
		return
	}
	if err := s.recorder.Start(ctx); err != nil {
		fmt.Fprintf(s.out, "Cannot record: %v\n", err)
		return
	}
	if s.pending != nil {
		s.pending = nil
		fmt.Fprintln(s.out, "Previous recording discarded")
	}
	fmt.Fprintln(s.out, "Recording. /stop to finish, /cancel to abandon")
}

// stopRecording ends capture and keeps the result until /send or /discard.
func (s *chatSession) stopRecording() {
	if s.recorder == nil {
		return
	}
	rec, err := s.recorder.Stop()
	if err != nil {
		fmt.Fprintf(s.out, "Recording failed: %v\n", err)
		return
	}
	s.pending = rec
	fmt.Fprintf(s.out, "Recorded %s (%s). /play to listen, /send to send, /discard to drop\n",
		rec.Duration.Round(time.Second), humanize.Bytes(uint64(rec.Size())))
}

func (s *chatSession) sendRecording(ctx context.Context) {
	rec := s.pending
	if rec == nil {
		fmt.Fprintln(s.out, "Nothing to send, /record first")
		return
	}
	fmt.Fprintf(s.out, "Sending voice message (%s)\n", humanize.Bytes(uint64(rec.Size())))
	if err := s.ctrl.SendVoiceMessage(ctx, rec); err != nil {
		// Held for a retry.
		return
	}
	s.pending = nil
}

// playRecording writes the held recording to a temp file and hands it to
// the --player command, or prints the path when none is set.
func (s *chatSession) playRecording(ctx context.Context) {
	rec := s.pending
	if rec == nil {
		fmt.Fprintln(s.out, "Nothing to play, /record first")
		return
	}
	f, err := os.CreateTemp("", "carelink-voice-*"+playbackExtension(rec.ContentType))
	if err != nil {
		fmt.Fprintf(s.out, "Cannot play: %v\n", err)
		return
	}
	_, err = io.Copy(f, rec.Reader())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		fmt.Fprintf(s.out, "Cannot play: %v\n", err)
		return
	}

	if s.player == "" {
		fmt.Fprintf(s.out, "Recording saved to %s\n", f.Name())
		return
	}
	defer os.Remove(f.Name())
	cmd := exec.CommandContext(ctx, "sh", "-c", s.player+` "$1"`, "sh", f.Name())
	cmd.Stdout = s.out
	cmd.Stderr = s.out
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(s.out, "Playback failed: %v\n", err)
	}
}

func playbackExtension(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	if exts, _ := mime.ExtensionsByType(base); len(exts) > 0 {
		return exts[0]
	}
	switch strings.TrimSpace(base) {
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	}
	return ".webm"
}

func (s *chatSession) confirm(prompt string) bool {
	fmt.Fprintf(s.out, "%s [y/N] ", prompt)
	if !s.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(s.in.Text()))
	return answer == "y" || answer == "yes"
}

// commandMicrophone captures audio from the stdout of a shell command,
// e.g. "arecord -q -f cd -t wav -". Closing the capture stops the command.
func commandMicrophone(command, contentType string) chat.Microphone {
	return chat.NewReaderMicrophone(contentType, func(ctx context.Context) (io.ReadCloser, error) {
		cmd := exec.Command("sh", "-c", command)
		cmd.Stderr = io.Discard
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %q: %w", command, err)
		}
		return &processCapture{ReadCloser: stdout, cmd: cmd}, nil
	})
}

type processCapture struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processCapture) Close() error {
	p.once.Do(func() {
		p.cmd.Process.Signal(os.Interrupt)
		p.ReadCloser.Close()
		p.cmd.Wait()
	})
	return nil
}
