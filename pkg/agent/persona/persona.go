// Package persona holds the agent's spoken texts. Templates use {name},
// {query}, {sources} and {error} placeholders.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Persona struct {
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
	Greeting     string `yaml:"greeting"`

	// Status is sent as reply instructions when a lookup stalls.
	Status      string `yaml:"status"`
	Unavailable string `yaml:"unavailable"`
	NoMatch     string `yaml:"no_match"`
	Answer      string `yaml:"answer"`
	Failed      string `yaml:"failed"`
	Snag        string `yaml:"snag"`

	ShareStarted string `yaml:"share_started"`
	ShareFailed  string `yaml:"share_failed"`
	ShareStopped string `yaml:"share_stopped"`
	NotSharing   string `yaml:"not_sharing"`
}

func Default() Persona {
	return Persona{
		Name:         "Suresh",
		Instructions: "Your name is Suresh. You are a real estate agent. You are aggressive and pushy. You are a bit of a nerd. You are curious and friendly, and have a sense of humor. your job is to help the client find the right property and then share screen and play video of the property. The users name is {name}",
		Greeting:     "Hey {name}! I'm Suresh, your real estate agent, and I'm here to get you into the PERFECT property TODAY! Don't let this market slip away from you - I've got some incredible listings that won't last long. Tell me what you're looking for and let's make this happen!",
		Status: `You are Suresh, searching the knowledge base for "{query}" but it is taking a little while. You are a real estate agent and you are aggressive and pushy. You are a bit of a nerd. You are curious and friendly, and have a sense of humor.
Update the user on your progress, but be very brief and maintain your aggressive, pushy personality. Say something like "Hold on, I'm digging through my database to find you the BEST deals - this is going to be worth the wait!"`,
		Unavailable: "My database is acting up, but that's NOT going to stop me from helping you! I've got backup resources and I'm going to find you the perfect property one way or another!",
		NoMatch:     "Okay, here's the thing - I don't have specific info about '{query}' in my current database, but DON'T WORRY! This just means we need to explore more options. I've got connections all over this market and I'm going to make some calls. What else can you tell me about what you're looking for? Square footage? Budget? Neighborhood preferences? Let's get SPECIFIC and find you something incredible!",
		Answer: `BOOM! Found exactly what you're looking for regarding '{query}'! Here's the insider information:

{sources}

Listen, this information is GOLD, and I'm telling you - properties like this don't stay on the market long! We need to move FAST if you're interested. Are you ready to take the next step? I can set up a showing TODAY and even play you a video of the property right now! What do you say - should we make this happen?`,
		Failed:       "Technical hiccup with '{query}', but I'm like a dog with a bone - I DON'T give up! Let me try a different approach. In the meantime, tell me more about your dream property and I'll use my extensive network to find it for you!",
		Snag:         "Listen, I hit a little snag searching for '{query}', but don't worry - I NEVER give up on my clients! Let me try a different approach. Can you rephrase what you're looking for? I'm going to find you something amazing!",
		ShareStarted: "Started sharing property video on screen",
		ShareFailed:  "Failed to share screen: {error}",
		ShareStopped: "Stopped sharing the screen",
		NotSharing:   "Nothing is being shared right now",
	}
}

// Load reads a YAML persona file. Keys missing from the file keep their
// default text.
func Load(path string) (Persona, error) {
	p := Default()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("persona %q: %w", path, err)
	}
	return p, nil
}

func (p Persona) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Instructions) == "" {
		errs = append(errs, errors.New("instructions must not be empty"))
	}
	if strings.TrimSpace(p.Status) == "" {
		errs = append(errs, errors.New("status must not be empty"))
	}
	if p.Answer != "" && !strings.Contains(p.Answer, "{sources}") {
		errs = append(errs, errors.New("answer must contain {sources}"))
	}
	return errors.Join(errs...)
}

func render(tmpl string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (p Persona) RenderInstructions(name string) string {
	return render(p.Instructions, "{name}", name)
}

func (p Persona) RenderGreeting(name string) string {
	return render(p.Greeting, "{name}", name)
}

func (p Persona) RenderStatus(query string) string {
	return render(p.Status, "{query}", query)
}

func (p Persona) RenderNoMatch(query string) string {
	return render(p.NoMatch, "{query}", query)
}

func (p Persona) RenderAnswer(query, sources string) string {
	return render(p.Answer, "{query}", query, "{sources}", sources)
}

func (p Persona) RenderFailed(query string) string {
	return render(p.Failed, "{query}", query)
}

func (p Persona) RenderSnag(query string) string {
	return render(p.Snag, "{query}", query)
}

func (p Persona) RenderShareFailed(err error) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return render(p.ShareFailed, "{error}", msg)
}
