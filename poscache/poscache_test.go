/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package poscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdateAndGet(t *testing.T) {
	c := New()

	_, ok := c.Get("node1")
	require.False(t, ok)

	c.Update("node1", 4.6097, -74.0817, 10*time.Second)
	p, ok := c.Get("node1")
	require.True(t, ok)
	require.Equal(t, 4.6097, p.Lat)
	require.Equal(t, -74.0817, p.Lon)
	require.Equal(t, 10*time.Second, p.ReceivedAt)
	require.Equal(t, uint(1), p.SeenCount)

	// newer fix replaces the whole record
	c.Update("node1", 4.6100, -74.0820, 25*time.Second)
	p, ok = c.Get("node1")
	require.True(t, ok)
	require.Equal(t, 4.6100, p.Lat)
	require.Equal(t, 25*time.Second, p.ReceivedAt)
	require.Equal(t, uint(2), p.SeenCount)
}

func TestAge(t *testing.T) {
	c := New()
	c.Update("node1", 1, 2, 30*time.Second)

	age, ok := c.Age("node1", 45*time.Second)
	require.True(t, ok)
	require.Equal(t, 15*time.Second, age)

	// a reading from before the update is clamped, never negative
	age, ok = c.Age("node1", 20*time.Second)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), age)

	_, ok = c.Age("ghost", 45*time.Second)
	require.False(t, ok)
}

func TestLen(t *testing.T) {
	c := New()
	require.Equal(t, 0, c.Len())
	c.Update("a", 1, 1, 0)
	c.Update("b", 2, 2, 0)
	c.Update("a", 3, 3, time.Second)
	require.Equal(t, 2, c.Len())
}

func TestOriginsMostRecentFirst(t *testing.T) {
	c := New()
	c.Update("old", 1, 1, 10*time.Second)
	c.Update("new", 2, 2, 30*time.Second)
	c.Update("mid", 3, 3, 20*time.Second)

	require.Equal(t, []string{"new", "mid", "old"}, c.Origins())
}
